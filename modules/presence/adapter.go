package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/presence-chat/domain/chat"
)

// RosterRequest asks for the roster of a room.
type RosterRequest struct {
	RoomID string `json:"room_id"`
}

// RosterResponse carries a roster snapshot.
type RosterResponse struct {
	Roster domain.Roster `json:"roster"`
}

// PresencePort defines the read-only presence queries available to other modules.
type PresencePort interface {
	Roster(ctx context.Context, roomID string) (domain.Roster, error)
}

// PresenceAdapter implements PresencePort using the service container.
type PresenceAdapter struct {
	container mono.ServiceContainer
}

// NewPresenceAdapter creates a new PresenceAdapter.
func NewPresenceAdapter(container mono.ServiceContainer) PresencePort {
	if container == nil {
		panic("presence: ServiceContainer is nil")
	}
	return &PresenceAdapter{container: container}
}

// Roster returns the roster of roomID.
func (a *PresenceAdapter) Roster(ctx context.Context, roomID string) (domain.Roster, error) {
	req := RosterRequest{RoomID: roomID}
	var resp RosterResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRoster,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return domain.Roster{}, fmt.Errorf("failed to get roster: %w", err)
	}
	return resp.Roster, nil
}
