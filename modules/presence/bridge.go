package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	cmap "github.com/orcaman/concurrent-map"

	domain "github.com/example/presence-chat/domain/chat"
)

// Bridge applies transport lifecycle events to the registry and room index
// and triggers a roster broadcast for every room whose membership changed.
//
// Events for one session are serialized, so the last event for a session decides
// its membership. Membership changes and snapshot staging for one room are
// serialized too; different rooms never wait on each other. Locks are always
// taken session first, then room, and no more than one room lock is held.
type Bridge struct {
	registry    *Registry
	index       *RoomIndex
	broadcaster *Broadcaster
	sessions    *keyLocks
	rooms       *keyLocks
	connections cmap.ConcurrentMap
	logger      types.Logger
	now         func() time.Time
}

// NewBridge creates a Bridge over the given registry, index and broadcaster.
func NewBridge(registry *Registry, index *RoomIndex, broadcaster *Broadcaster, logger types.Logger) *Bridge {
	return &Bridge{
		registry:    registry,
		index:       index,
		broadcaster: broadcaster,
		sessions:    newKeyLocks(),
		rooms:       newKeyLocks(),
		connections: cmap.New(),
		logger:      logger,
		now:         time.Now,
	}
}

// Handle dispatches an inbound lifecycle event.
func (b *Bridge) Handle(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch e := ev.(type) {
	case ConnectionEstablished:
		return b.OnConnect(e.SessionID)
	case JoinRequested:
		return b.OnJoin(e.SessionID, e.RoomID, e.DisplayName)
	case LeaveRequested:
		b.OnLeave(e.SessionID)
	case ConnectionClosed:
		b.OnDisconnect(e.SessionID)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidEvent, ev)
	}
	return nil
}

// OnConnect records a newly opened connection.
func (b *Bridge) OnConnect(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidEvent)
	}
	b.connections.Set(sessionID, b.now())
	b.logger.Info("Connection established", "sessionID", sessionID)
	return nil
}

// OnJoin registers sessionID in roomID under displayName and broadcasts the new roster.
// A session already joined to another room is moved out of it first.
func (b *Bridge) OnJoin(sessionID, roomID, displayName string) error {
	if sessionID == "" || roomID == "" || displayName == "" {
		return fmt.Errorf("%w: session id, room id and display name are required", ErrInvalidEvent)
	}

	unlock := b.sessions.Lock(sessionID)
	var moved string
	if prev, ok := b.registry.Get(sessionID); ok && prev.RoomID != roomID {
		moved = prev.RoomID
		b.removeFromRoom(sessionID, moved)
	}

	b.registry.Put(sessionID, domain.Presence{
		SessionID:   sessionID,
		DisplayName: displayName,
		RoomID:      roomID,
		JoinedAt:    b.now(),
	})

	unlockRoom := b.rooms.Lock(roomID)
	b.index.Join(roomID, sessionID)
	b.broadcaster.stage(roomID)
	unlockRoom()
	unlock()

	if moved != "" {
		b.broadcaster.flush(moved)
	}
	b.broadcaster.flush(roomID)
	b.logger.Info("User joined room", "sessionID", sessionID, "roomID", roomID, "userName", displayName)
	return nil
}

// OnLeave removes sessionID from its room while keeping the connection.
// Unknown sessions are ignored.
func (b *Bridge) OnLeave(sessionID string) {
	if p, ok := b.leave(sessionID); ok {
		b.logger.Info("User left room", "sessionID", sessionID, "roomID", p.RoomID, "userName", p.DisplayName)
	}
}

// OnDisconnect drops the connection and removes sessionID from its room.
// Late or duplicate disconnects are no-ops.
func (b *Bridge) OnDisconnect(sessionID string) {
	b.connections.Remove(sessionID)
	if p, ok := b.leave(sessionID); ok {
		b.logger.Info("User disconnected", "sessionID", sessionID, "roomID", p.RoomID, "userName", p.DisplayName)
		return
	}
	b.logger.Debug("Disconnect for unknown session", "sessionID", sessionID)
}

// Connections returns the number of open connections seen by the bridge.
func (b *Bridge) Connections() int {
	return b.connections.Count()
}

// Roster returns the current roster of roomID.
func (b *Bridge) Roster(roomID string) domain.Roster {
	return b.broadcaster.Snapshot(roomID)
}

func (b *Bridge) leave(sessionID string) (domain.Presence, bool) {
	unlock := b.sessions.Lock(sessionID)
	p, ok := b.registry.Remove(sessionID)
	if ok {
		b.removeFromRoom(sessionID, p.RoomID)
	}
	unlock()

	if !ok {
		return domain.Presence{}, false
	}
	b.broadcaster.flush(p.RoomID)
	return p, true
}

// removeFromRoom must be called with the session lock held. The staged snapshot
// is delivered by the caller once it has released its locks.
func (b *Bridge) removeFromRoom(sessionID, roomID string) {
	unlockRoom := b.rooms.Lock(roomID)
	b.index.Leave(roomID, sessionID)
	b.broadcaster.stage(roomID)
	unlockRoom()
}
