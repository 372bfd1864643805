package metrics

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/presence-chat/events"
)

// Module consumes chat and presence events into the Prometheus registry.
type Module struct {
	recorder    *Recorder
	snapshotter *Snapshotter
	logger      types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.EventConsumerModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a new metrics module around recorder.
func NewModule(recorder *Recorder, snapshotter *Snapshotter, logger types.Logger) *Module {
	return &Module{
		recorder:    recorder,
		snapshotter: snapshotter,
		logger:      logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "metrics"
}

// Start starts the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Metrics module started")
	return nil
}

// Stop stops the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Metrics module stopped")
	return nil
}

// Health reports whether the registry can be gathered.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	snap, err := m.snapshotter.Snapshot()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: err.Error(),
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"http_requests": snap.HTTP.TotalRequests,
			"db_queries":    snap.DB.TotalQueries,
			"goroutines":    snap.Runtime.Goroutines,
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessagePersistedV1, m.handleMessagePersisted, m,
	); err != nil {
		return fmt.Errorf("failed to register MessagePersisted consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageDroppedV1, m.handleMessageDropped, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageDropped consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.PresenceChangedV1, m.handlePresenceChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "MessagePersisted, MessageDropped, PresenceChanged")
	return nil
}

func (m *Module) handleMessagePersisted(_ context.Context, _ events.MessagePersistedEvent, _ *mono.Msg) error {
	m.recorder.MessageBroadcast()
	return nil
}

func (m *Module) handleMessageDropped(_ context.Context, event events.MessageDroppedEvent, _ *mono.Msg) error {
	m.recorder.MessageDropped()
	m.logger.Debug("Message dropped", "roomID", event.RoomID, "reason", event.Reason)
	return nil
}

func (m *Module) handlePresenceChanged(_ context.Context, event events.PresenceChangedEvent, _ *mono.Msg) error {
	m.recorder.PresenceUpdated()
	m.logger.Debug("Presence changed", "roomID", event.RoomID, "userCount", event.UserCount)
	return nil
}

// Recorder returns the recorder.
func (m *Module) Recorder() *Recorder {
	return m.recorder
}

// Snapshotter returns the snapshotter.
func (m *Module) Snapshotter() *Snapshotter {
	return m.snapshotter
}
