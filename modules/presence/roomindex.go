package presence

import (
	cmap "github.com/orcaman/concurrent-map"
)

// memberSet is treated as immutable once stored in the index.
// Every mutation builds a new set so snapshots can be handed out without copying under a lock.
type memberSet map[string]struct{}

func (s memberSet) with(sessionID string) memberSet {
	next := make(memberSet, len(s)+1)
	for id := range s {
		next[id] = struct{}{}
	}
	next[sessionID] = struct{}{}
	return next
}

func (s memberSet) without(sessionID string) memberSet {
	next := make(memberSet, len(s))
	for id := range s {
		if id != sessionID {
			next[id] = struct{}{}
		}
	}
	return next
}

// RoomIndex maps room ids to the set of session ids joined to them.
// Rooms whose set becomes empty are removed from the index.
type RoomIndex struct {
	rooms cmap.ConcurrentMap
}

// NewRoomIndex creates an empty room index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{rooms: cmap.New()}
}

// Join adds sessionID to roomID, creating the room entry when absent.
func (x *RoomIndex) Join(roomID, sessionID string) {
	x.rooms.Upsert(roomID, nil, func(exist bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exist {
			return memberSet{sessionID: {}}
		}
		return valueInMap.(memberSet).with(sessionID)
	})
}

// Leave removes sessionID from roomID and reports whether it was a member.
func (x *RoomIndex) Leave(roomID, sessionID string) bool {
	var removed bool
	x.rooms.Upsert(roomID, nil, func(exist bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exist {
			return memberSet{}
		}
		set := valueInMap.(memberSet)
		if _, ok := set[sessionID]; !ok {
			return set
		}
		removed = true
		return set.without(sessionID)
	})

	// The emptiness check runs under the shard lock, so a join that slipped in keeps the entry.
	x.rooms.RemoveCb(roomID, func(_ string, v interface{}, exists bool) bool {
		return exists && len(v.(memberSet)) == 0
	})
	return removed
}

// Members returns a copy of the session ids joined to roomID.
func (x *RoomIndex) Members(roomID string) []string {
	v, ok := x.rooms.Get(roomID)
	if !ok {
		return nil
	}
	set := v.(memberSet)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Count returns the number of sessions in roomID, 0 for an unknown room.
func (x *RoomIndex) Count(roomID string) int {
	v, ok := x.rooms.Get(roomID)
	if !ok {
		return 0
	}
	return len(v.(memberSet))
}

// Has reports whether a room entry exists for roomID.
func (x *RoomIndex) Has(roomID string) bool {
	return x.rooms.Has(roomID)
}

// Rooms returns the ids of all rooms with at least one member.
func (x *RoomIndex) Rooms() []string {
	return x.rooms.Keys()
}
