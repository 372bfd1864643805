package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// MessagePersistedEvent is emitted after a chat message was saved and broadcast.
type MessagePersistedEvent struct {
	MessageID uint      `json:"message_id"`
	RoomID    string    `json:"room_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDroppedEvent is emitted when a chat message could not be saved.
type MessageDroppedEvent struct {
	RoomID    string    `json:"room_id"`
	UserName  string    `json:"user_name"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// PresenceChangedEvent is emitted for every roster snapshot published for a room.
type PresenceChangedEvent struct {
	RoomID    string    `json:"room_id"`
	UserCount int       `json:"user_count"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat domain.
var (
	MessagePersistedV1 = helper.EventDefinition[MessagePersistedEvent](
		"chat",
		"MessagePersisted",
		"v1",
	)

	MessageDroppedV1 = helper.EventDefinition[MessageDroppedEvent](
		"chat",
		"MessageDropped",
		"v1",
	)

	PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
		"presence",
		"PresenceChanged",
		"v1",
	)
)
