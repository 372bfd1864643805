package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/example/presence-chat/domain/chat"
)

// RepositoryName labels query timings recorded for this repository.
const RepositoryName = "ChatMessageRepository"

// Query operations reported to the Observer.
const (
	OpSave      = "save"
	OpRecent    = "recent"
	OpAllByRoom = "allByRoom"
)

// Observer receives the duration and result of every repository query.
type Observer interface {
	ObserveQuery(repository, operation string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveQuery(string, string, time.Duration, error) {}

// Repository provides access to chat message storage.
type Repository struct {
	db       *gorm.DB
	observer Observer
}

// NewRepository creates a new chat message repository.
// A nil observer disables query timing.
func NewRepository(db *gorm.DB, observer Observer) *Repository {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Repository{db: db, observer: observer}
}

// Save inserts msg and returns it with its assigned ID.
func (r *Repository) Save(ctx context.Context, msg *domain.Message) (saved *domain.Message, err error) {
	defer r.observe(OpSave, time.Now(), &err)

	row := *msg
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return &row, nil
}

// Recent returns up to limit messages of roomID, most recent first.
func (r *Repository) Recent(ctx context.Context, roomID string, limit int) (messages []domain.Message, err error) {
	defer r.observe(OpRecent, time.Now(), &err)

	messages = []domain.Message{}
	if err := r.byRoom(ctx, roomID).Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to find recent messages: %w", err)
	}
	return messages, nil
}

// AllByRoom returns every message of roomID, most recent first.
func (r *Repository) AllByRoom(ctx context.Context, roomID string) (messages []domain.Message, err error) {
	defer r.observe(OpAllByRoom, time.Now(), &err)

	messages = []domain.Message{}
	if err := r.byRoom(ctx, roomID).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	return messages, nil
}

func (r *Repository) byRoom(ctx context.Context, roomID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC")
}

func (r *Repository) observe(op string, start time.Time, err *error) {
	r.observer.ObserveQuery(RepositoryName, op, time.Since(start), *err)
}
