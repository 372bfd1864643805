package api

import (
	domain "github.com/example/presence-chat/domain/chat"
)

// WebSocket frame types.
const (
	TypeConnected    = "connected"
	TypeJoin         = "join"
	TypeJoined       = "joined"
	TypeLeave        = "leave"
	TypeLeft         = "left"
	TypeMessage      = "message"
	TypeSubscribe    = "subscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribe  = "unsubscribe"
	TypeUnsubscribed = "unsubscribed"
	TypeHistory      = "history"
	TypeUsers        = "users"
	TypeError        = "error"
)

// ClientFrame is a frame sent by a websocket client.
type ClientFrame struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId,omitempty"`
	UserName    string `json:"userName,omitempty"`
	MessageText string `json:"messageText,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ServerFrame is a reply addressed to a single websocket client.
// Room traffic arrives as broadcast frames instead.
type ServerFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	UserName  string `json:"userName,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UsersResponse is the API response for the active users of a room.
type UsersResponse struct {
	ActiveUsers []string `json:"activeUsers"`
	UserCount   int      `json:"userCount"`
}

func usersResponse(r domain.Roster) UsersResponse {
	users := r.ActiveUsers
	if users == nil {
		users = []string{}
	}
	return UsersResponse{ActiveUsers: users, UserCount: r.UserCount}
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// chronological returns messages ordered oldest first, given most-recent-first input.
func chronological(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, msg := range messages {
		out[len(messages)-1-i] = msg
	}
	return out
}
