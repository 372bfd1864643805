package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/presence-chat/domain/chat"
)

// KindChat is the frame type chat messages are published with.
const KindChat = "chat"

// DefaultSaveTimeout bounds a single save when no timeout is configured.
const DefaultSaveTimeout = 5 * time.Second

// MessageStore persists chat messages.
type MessageStore interface {
	// Save stores msg and returns it with its assigned ID.
	Save(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	// Recent returns up to limit messages of roomID, most recent first.
	Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	// AllByRoom returns every message of roomID, most recent first.
	AllByRoom(ctx context.Context, roomID string) ([]domain.Message, error)
}

// Publisher delivers a payload to every current subscriber of topic.
type Publisher interface {
	Publish(topic, kind string, payload any)
}

// FailureReporter receives persistence failures. It must not block.
type FailureReporter interface {
	ReportPersistFailure(msg domain.Message, err error)
}

// State is the lifecycle position of one inbound message.
type State int

// Message states. Broadcast and Dropped are terminal.
const (
	StateReceived State = iota
	StateStamped
	StatePersisting
	StatePersisted
	StateBroadcast
	StateFailed
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateStamped:
		return "stamped"
	case StatePersisting:
		return "persisting"
	case StatePersisted:
		return "persisted"
	case StateBroadcast:
		return "broadcast"
	case StateFailed:
		return "failed"
	case StateDropped:
		return "dropped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Inbound is a chat message as submitted by a client.
type Inbound struct {
	UserName    string `json:"userName"`
	MessageText string `json:"messageText"`
}

// Outcome is the terminal result of handling one message.
type Outcome struct {
	Message domain.Message
	State   State
	Err     error
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	SaveTimeout time.Duration
	Now         func() time.Time
}

// Pipeline stamps inbound messages, persists them and broadcasts the ones that were saved.
// A message whose save fails is reported and dropped; it is never published.
type Pipeline struct {
	store       MessageStore
	publisher   Publisher
	reporter    FailureReporter
	logger      types.Logger
	saveTimeout time.Duration
	now         func() time.Time
	inflight    sync.WaitGroup
}

// NewPipeline creates a Pipeline.
func NewPipeline(store MessageStore, publisher Publisher, reporter FailureReporter, logger types.Logger, cfg PipelineConfig) *Pipeline {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = DefaultSaveTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		store:       store,
		publisher:   publisher,
		reporter:    reporter,
		logger:      logger,
		saveTimeout: cfg.SaveTimeout,
		now:         cfg.Now,
	}
}

// HandleIncoming accepts a message for roomID and returns immediately.
// The returned channel yields the terminal Outcome once and is then closed;
// callers that don't care about the result may ignore it.
func (p *Pipeline) HandleIncoming(ctx context.Context, roomID string, in Inbound) <-chan Outcome {
	out := make(chan Outcome, 1)

	msg := domain.Message{
		RoomID:      roomID,
		UserName:    in.UserName,
		MessageText: in.MessageText,
		CreatedAt:   p.now(),
	}
	p.logger.Debug("Received chat message", "roomID", roomID, "userName", in.UserName)

	// The sender's context may end with its connection; the save must still complete.
	saveCtx := context.WithoutCancel(ctx)

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer close(out)
		out <- p.process(saveCtx, msg)
	}()
	return out
}

// Wait blocks until every accepted message reached a terminal state.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

func (p *Pipeline) process(ctx context.Context, msg domain.Message) Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.saveTimeout)
	defer cancel()

	saved, err := p.store.Save(ctx, &msg)
	if err != nil {
		p.reporter.ReportPersistFailure(msg, err)
		p.logger.Error("Failed to save chat message, dropping",
			"roomID", msg.RoomID,
			"userName", msg.UserName,
			"error", err)
		return Outcome{Message: msg, State: StateDropped, Err: err}
	}

	p.publisher.Publish(domain.ChatTopic(saved.RoomID), KindChat, *saved)
	p.logger.Info("Broadcast chat message", "messageID", saved.ID, "roomID", saved.RoomID)
	return Outcome{Message: *saved, State: StateBroadcast}
}
