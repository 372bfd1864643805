package chat

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

// Request-reply services registered by the chat module.
const (
	ServiceRecent = "recent"
	ServiceAll    = "all"
)

// MaxHistoryLimit caps the number of messages a recent query may return.
const MaxHistoryLimit = 1000

// Module implements the chat module: the message pipeline and the history services.
type Module struct {
	store     MessageStore
	publisher Publisher
	reporter  FailureReporter
	pipeline  *Pipeline
	cfg       PipelineConfig
	eventBus  mono.EventBus
	logger    types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new chat module.
func NewModule(store MessageStore, publisher Publisher, reporter FailureReporter, cfg PipelineConfig, logger types.Logger) *Module {
	return &Module{
		store:     store,
		publisher: publisher,
		reporter:  reporter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessagePersistedV1.ToBase(),
		events.MessageDroppedV1.ToBase(),
	}
}

// RegisterServices registers the history query services.
// The framework prefixes them, so "recent" is served as "services.chat.recent".
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRecent, json.Unmarshal, json.Marshal, m.getRecent,
	); err != nil {
		return fmt.Errorf("failed to register recent service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceAll, json.Unmarshal, json.Marshal, m.getAll,
	); err != nil {
		return fmt.Errorf("failed to register all service: %w", err)
	}

	m.logger.Info("Registered chat services", "services", "services.chat.{recent,all}")
	return nil
}

// Start builds the message pipeline.
func (m *Module) Start(_ context.Context) error {
	if m.store == nil {
		return fmt.Errorf("message store dependency not set")
	}
	if m.publisher == nil {
		return fmt.Errorf("publisher dependency not set")
	}

	m.pipeline = NewPipeline(
		m.store,
		&announcingPublisher{next: m.publisher, module: m},
		&announcingReporter{next: m.reporter, module: m},
		m.logger,
		m.cfg,
	)
	m.logger.Info("Chat module started", "saveTimeout", m.pipeline.saveTimeout)
	return nil
}

// Stop waits for in-flight messages to finish.
func (m *Module) Stop(_ context.Context) error {
	if m.pipeline != nil {
		m.pipeline.Wait()
	}
	m.logger.Info("Chat module stopped")
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.pipeline != nil,
		Message: "operational",
	}
}

// Pipeline returns the message pipeline for the transport layer.
func (m *Module) Pipeline() *Pipeline {
	return m.pipeline
}

func (m *Module) getRecent(ctx context.Context, req RecentRequest, _ *mono.Msg) (MessagesResponse, error) {
	if err := ValidateRoomID(req.RoomID); err != nil {
		return MessagesResponse{}, err
	}
	if req.Limit <= 0 || req.Limit > MaxHistoryLimit {
		return MessagesResponse{}, fmt.Errorf("limit must be between 1 and %d", MaxHistoryLimit)
	}

	messages, err := m.store.Recent(ctx, req.RoomID, req.Limit)
	if err != nil {
		return MessagesResponse{}, fmt.Errorf("failed to load recent messages: %w", err)
	}
	return MessagesResponse{Messages: messages}, nil
}

func (m *Module) getAll(ctx context.Context, req AllRequest, _ *mono.Msg) (MessagesResponse, error) {
	if err := ValidateRoomID(req.RoomID); err != nil {
		return MessagesResponse{}, err
	}

	messages, err := m.store.AllByRoom(ctx, req.RoomID)
	if err != nil {
		return MessagesResponse{}, fmt.Errorf("failed to load messages: %w", err)
	}
	return MessagesResponse{Messages: messages}, nil
}

func (m *Module) announcePersisted(msg domain.Message) {
	if m.eventBus == nil {
		return
	}
	event := events.MessagePersistedEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		UserName:  msg.UserName,
		Timestamp: msg.CreatedAt,
	}
	if err := events.MessagePersistedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish MessagePersisted event", "messageID", msg.ID, "error", err)
	}
}

func (m *Module) announceDropped(msg domain.Message, cause error) {
	if m.eventBus == nil {
		return
	}
	event := droppedEvent(msg, cause, time.Now())
	if err := events.MessageDroppedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish MessageDropped event", "roomID", msg.RoomID, "error", err)
	}
}

func droppedEvent(msg domain.Message, cause error, at time.Time) events.MessageDroppedEvent {
	return events.MessageDroppedEvent{
		RoomID:    msg.RoomID,
		UserName:  msg.UserName,
		Reason:    cause.Error(),
		Timestamp: at,
	}
}

// announcingPublisher forwards chat messages to the transport and mirrors them on the event bus.
type announcingPublisher struct {
	next   Publisher
	module *Module
}

func (p *announcingPublisher) Publish(topic, kind string, payload any) {
	p.next.Publish(topic, kind, payload)
	if msg, ok := payload.(domain.Message); ok {
		p.module.announcePersisted(msg)
	}
}

// announcingReporter forwards failures to the sink and mirrors them on the event bus.
type announcingReporter struct {
	next   FailureReporter
	module *Module
}

func (r *announcingReporter) ReportPersistFailure(msg domain.Message, err error) {
	if r.next != nil {
		r.next.ReportPersistFailure(msg, err)
	}
	r.module.announceDropped(msg, err)
}
