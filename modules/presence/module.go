package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/example/presence-chat/events"
)

// ServiceRoster is the request-reply service returning a room roster.
const ServiceRoster = "roster"

// Module owns the presence state of the process and exposes the lifecycle bridge.
type Module struct {
	registry    *Registry
	index       *RoomIndex
	broadcaster *Broadcaster
	bridge      *Bridge
	eventBus    mono.EventBus
	logger      types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the presence module. Roster snapshots go to publisher.
func NewModule(publisher Publisher, logger types.Logger) *Module {
	m := &Module{
		registry: NewRegistry(),
		index:    NewRoomIndex(),
		logger:   logger,
	}
	m.broadcaster = NewBroadcaster(m.registry, m.index, &announcingPublisher{next: publisher, module: m})
	m.bridge = NewBridge(m.registry, m.index, m.broadcaster, logger)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "presence"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.PresenceChangedV1.ToBase(),
	}
}

// RegisterServices registers the roster query service.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRoster, json.Unmarshal, json.Marshal, m.getRoster,
	); err != nil {
		return fmt.Errorf("failed to register roster service: %w", err)
	}
	m.logger.Info("Registered presence services", "services", "services.presence.roster")
	return nil
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Presence module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Presence module stopped",
		"sessions", m.registry.Count(),
		"rooms", len(m.index.Rooms()))
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"sessions":    m.registry.Count(),
			"rooms":       len(m.index.Rooms()),
			"connections": m.bridge.Connections(),
		},
	}
}

// Bridge returns the lifecycle bridge for the transport layer.
func (m *Module) Bridge() *Bridge {
	return m.bridge
}

func (m *Module) getRoster(_ context.Context, req RosterRequest, _ *mono.Msg) (RosterResponse, error) {
	if req.RoomID == "" {
		return RosterResponse{}, fmt.Errorf("room_id is required")
	}
	return RosterResponse{Roster: m.broadcaster.Snapshot(req.RoomID)}, nil
}

func (m *Module) announce(r domain.Roster) {
	if m.eventBus == nil {
		return
	}
	event := events.PresenceChangedEvent{
		RoomID:    r.RoomID,
		UserCount: r.UserCount,
		Timestamp: time.Now(),
	}
	if err := events.PresenceChangedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish PresenceChanged event", "roomID", r.RoomID, "error", err)
	}
}

// announcingPublisher forwards snapshots to the transport and mirrors them on the event bus.
type announcingPublisher struct {
	next   Publisher
	module *Module
}

func (p *announcingPublisher) Publish(topic, kind string, payload any) {
	p.next.Publish(topic, kind, payload)
	if r, ok := payload.(domain.Roster); ok {
		p.module.announce(r)
	}
}
