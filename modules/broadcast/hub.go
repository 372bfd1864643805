package broadcast

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/go-monolith/mono/pkg/types"
)

// Frame is the envelope every published payload is wrapped in.
type Frame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Subscriber receives encoded frames. Send must not block.
type Subscriber interface {
	ID() string
	Send(frame []byte) bool
	Close() error
}

// Hub fans frames out to the subscribers of a topic.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Subscriber          // subscriberID -> Subscriber
	topics  map[string]map[string]struct{} // topic -> set of subscriberIDs
	joined  map[string]map[string]struct{} // subscriberID -> set of topics
	logger  types.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub(logger types.Logger) *Hub {
	return &Hub{
		clients: make(map[string]Subscriber),
		topics:  make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger,
	}
}

// Register adds a connected subscriber with no topics.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[sub.ID()] = sub
	h.logger.Debug("Subscriber registered", "id", sub.ID())
}

// Unregister removes a subscriber and all of its subscriptions.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeAllLocked(id)
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.logger.Debug("Subscriber unregistered", "id", id)
	}
}

// Subscribe adds sub to topic, registering it if needed.
// It returns once later Publish calls on topic will reach sub.
func (h *Hub) Subscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := sub.ID()
	h.clients[id] = sub
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]struct{})
	}
	h.topics[topic][id] = struct{}{}
	if h.joined[id] == nil {
		h.joined[id] = make(map[string]struct{})
	}
	h.joined[id][topic] = struct{}{}
}

// Unsubscribe removes subscriber id from topic.
func (h *Hub) Unsubscribe(topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(topic, id)
}

// UnsubscribeAll removes subscriber id from every topic. It stays registered.
func (h *Hub) UnsubscribeAll(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeAllLocked(id)
}

func (h *Hub) unsubscribeAllLocked(id string) {
	for topic := range h.joined[id] {
		h.unsubscribeLocked(topic, id)
	}
}

func (h *Hub) unsubscribeLocked(topic, id string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if topics, ok := h.joined[id]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(h.joined, id)
		}
	}
}

// Publish encodes payload as a frame of the given kind and queues it for
// every current subscriber of topic. A topic without subscribers is a no-op.
func (h *Hub) Publish(topic, kind string, payload any) {
	h.mu.RLock()
	ids := h.topics[topic]
	if len(ids) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]Subscriber, 0, len(ids))
	for id := range ids {
		if sub, ok := h.clients[id]; ok {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	data, err := json.Marshal(Frame{Type: kind, Topic: topic, Data: payload})
	if err != nil {
		h.logger.Error("Failed to marshal frame", "topic", topic, "kind", kind, "error", err)
		return
	}

	for _, sub := range targets {
		if sub.Send(data) {
			h.published.Add(1)
			continue
		}
		h.dropped.Add(1)
		h.logger.Warn("Subscriber not accepting frames", "id", sub.ID(), "topic", topic)
	}
}

// SubscriberCount returns the number of subscribers of topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ClientCount returns the number of registered subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns the number of topics with at least one subscriber.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// Stats returns the delivered and dropped frame counts.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

// CloseAll closes every registered subscriber and forgets all subscriptions.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]Subscriber)
	h.topics = make(map[string]map[string]struct{})
	h.joined = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, sub := range clients {
		_ = sub.Close()
	}
}
