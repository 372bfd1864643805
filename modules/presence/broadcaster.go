package presence

import (
	"sort"

	cmap "github.com/orcaman/concurrent-map"

	domain "github.com/example/presence-chat/domain/chat"
)

// KindPresence is the frame type roster snapshots are published with.
const KindPresence = "presence"

// Publisher delivers a payload to every current subscriber of topic.
// Publishing to a topic without subscribers must be a no-op.
type Publisher interface {
	Publish(topic, kind string, payload any)
}

// Broadcaster derives roster snapshots and publishes them on the room's presence topic.
type Broadcaster struct {
	registry  *Registry
	index     *RoomIndex
	publisher Publisher
	outbox    *outbox
}

// NewBroadcaster creates a Broadcaster reading from registry and index.
func NewBroadcaster(registry *Registry, index *RoomIndex, publisher Publisher) *Broadcaster {
	return &Broadcaster{
		registry:  registry,
		index:     index,
		publisher: publisher,
		outbox:    newOutbox(),
	}
}

// Snapshot builds the current roster for roomID.
// Member ids without a registry entry for this room are skipped.
func (b *Broadcaster) Snapshot(roomID string) domain.Roster {
	members := b.index.Members(roomID)

	names := make(map[string]struct{}, len(members))
	count := 0
	for _, sessionID := range members {
		p, ok := b.registry.Get(sessionID)
		if !ok || p.RoomID != roomID {
			continue
		}
		count++
		names[p.DisplayName] = struct{}{}
	}

	users := make([]string, 0, len(names))
	for name := range names {
		users = append(users, name)
	}
	sort.Strings(users)

	return domain.Roster{
		RoomID:      roomID,
		ActiveUsers: users,
		UserCount:   count,
	}
}

// PublishRoomState snapshots roomID and publishes the roster to its subscribers.
func (b *Broadcaster) PublishRoomState(roomID string) {
	b.stage(roomID)
	b.flush(roomID)
}

// stage queues a snapshot of roomID. Callers holding the room lock get snapshots queued in mutation order.
func (b *Broadcaster) stage(roomID string) {
	b.outbox.push(roomID, b.Snapshot(roomID))
}

// flush delivers queued snapshots for roomID unless another caller is already delivering them.
func (b *Broadcaster) flush(roomID string) {
	b.outbox.drain(roomID, func(r domain.Roster) {
		b.publisher.Publish(domain.PresenceTopic(roomID), KindPresence, r)
	})
}

// outbox keeps a FIFO of pending snapshots per room with at most one active drainer per room.
type outbox struct {
	rooms cmap.ConcurrentMap
}

type queueState struct {
	pending  []domain.Roster
	draining bool
}

func newOutbox() *outbox {
	return &outbox{rooms: cmap.New()}
}

func (o *outbox) push(roomID string, r domain.Roster) {
	o.rooms.Upsert(roomID, nil, func(exist bool, valueInMap interface{}, _ interface{}) interface{} {
		var st queueState
		if exist {
			st = valueInMap.(queueState)
		}
		pending := make([]domain.Roster, len(st.pending), len(st.pending)+1)
		copy(pending, st.pending)
		st.pending = append(pending, r)
		return st
	})
}

func (o *outbox) drain(roomID string, emit func(domain.Roster)) {
	claimed := false
	o.rooms.Upsert(roomID, nil, func(exist bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exist {
			return queueState{}
		}
		st := valueInMap.(queueState)
		if !st.draining {
			st.draining = true
			claimed = true
		}
		return st
	})
	if !claimed {
		o.release(roomID, false)
		return
	}

	for {
		var batch []domain.Roster
		o.rooms.Upsert(roomID, nil, func(_ bool, valueInMap interface{}, _ interface{}) interface{} {
			st, _ := valueInMap.(queueState)
			batch = st.pending
			return queueState{draining: true}
		})
		for _, r := range batch {
			emit(r)
		}
		if len(batch) == 0 && o.release(roomID, true) {
			return
		}
	}
}

// release drops the room entry when nothing is pending. When owner is set it also
// hands back the drainer claim; it reports false if new snapshots arrived meanwhile.
func (o *outbox) release(roomID string, owner bool) bool {
	done := true
	o.rooms.RemoveCb(roomID, func(_ string, v interface{}, exists bool) bool {
		if !exists {
			return false
		}
		st := v.(queueState)
		if len(st.pending) > 0 {
			done = !owner
			return false
		}
		return owner || !st.draining
	})
	return done
}

func (o *outbox) len() int {
	return o.rooms.Count()
}
