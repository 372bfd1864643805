package chat

import (
	"errors"
	"unicode/utf8"

	domain "github.com/example/presence-chat/domain/chat"
)

// Validation constants
const (
	MaxUserNameLength = 50
	MaxRoomIDLength   = 100
	MaxMessageLength  = 5000
)

// Validation errors
var (
	ErrUserNameEmpty   = errors.New("user name cannot be empty")
	ErrUserNameTooLong = errors.New("user name exceeds maximum length")
	ErrUserNameInvalid = errors.New("user name contains invalid characters")
	ErrRoomIDEmpty     = errors.New("room id cannot be empty")
	ErrRoomIDTooLong   = errors.New("room id exceeds maximum length")
	ErrRoomIDInvalid   = errors.New("room id contains invalid characters")
	ErrMessageEmpty    = errors.New("message text cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMessageInvalid  = errors.New("message contains invalid characters")
)

// RecentRequest is the request for the most recent messages of a room.
type RecentRequest struct {
	RoomID string `json:"room_id"`
	Limit  int    `json:"limit"`
}

// AllRequest is the request for every message of a room.
type AllRequest struct {
	RoomID string `json:"room_id"`
}

// MessagesResponse carries a list of messages.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// ValidateUserName validates a display name.
func ValidateUserName(name string) error {
	if name == "" {
		return ErrUserNameEmpty
	}
	if len(name) > MaxUserNameLength {
		return ErrUserNameTooLong
	}
	if !utf8.ValidString(name) {
		return ErrUserNameInvalid
	}
	return nil
}

// ValidateRoomID validates a room id.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	if len(roomID) > MaxRoomIDLength {
		return ErrRoomIDTooLong
	}
	if !utf8.ValidString(roomID) {
		return ErrRoomIDInvalid
	}
	return nil
}

// ValidateMessage validates message text.
func ValidateMessage(text string) error {
	if text == "" {
		return ErrMessageEmpty
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(text) {
		return ErrMessageInvalid
	}
	return nil
}
