package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/presence-chat/domain/chat"
)

// ChatPort defines the read-only history queries available to other modules.
type ChatPort interface {
	Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	All(ctx context.Context, roomID string) ([]domain.Message, error)
}

// ChatAdapter implements ChatPort using the service container.
type ChatAdapter struct {
	container mono.ServiceContainer
}

// NewChatAdapter creates a new ChatAdapter.
func NewChatAdapter(container mono.ServiceContainer) ChatPort {
	if container == nil {
		panic("chat: ServiceContainer is nil")
	}
	return &ChatAdapter{container: container}
}

// Recent returns up to limit messages of roomID, most recent first.
func (a *ChatAdapter) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	req := RecentRequest{RoomID: roomID, Limit: limit}
	var resp MessagesResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRecent,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}
	return resp.Messages, nil
}

// All returns every message of roomID, most recent first.
func (a *ChatAdapter) All(ctx context.Context, roomID string) ([]domain.Message, error) {
	req := AllRequest{RoomID: roomID}
	var resp MessagesResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceAll,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return resp.Messages, nil
}
