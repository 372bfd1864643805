package presence

import (
	cmap "github.com/orcaman/concurrent-map"

	domain "github.com/example/presence-chat/domain/chat"
)

// Registry maps live session ids to their presence record.
// Records are stored by value, so readers always observe a complete record.
type Registry struct {
	sessions cmap.ConcurrentMap
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: cmap.New()}
}

// Put inserts or replaces the presence record for sessionID.
func (r *Registry) Put(sessionID string, p domain.Presence) {
	r.sessions.Set(sessionID, p)
}

// Remove deletes the record for sessionID and returns it.
// The boolean is false when the session was not registered.
func (r *Registry) Remove(sessionID string) (domain.Presence, bool) {
	v, ok := r.sessions.Pop(sessionID)
	if !ok {
		return domain.Presence{}, false
	}
	return v.(domain.Presence), true
}

// Get returns the record for sessionID without modifying the registry.
func (r *Registry) Get(sessionID string) (domain.Presence, bool) {
	v, ok := r.sessions.Get(sessionID)
	if !ok {
		return domain.Presence{}, false
	}
	return v.(domain.Presence), true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	return r.sessions.Count()
}
