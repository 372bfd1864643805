package chat

import "time"

// Message represents a persisted chat message.
// ID is zero until the message store assigns one on save.
type Message struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	RoomID      string    `gorm:"size:100;not null;index:idx_chat_messages_room_created,priority:1" json:"roomId"`
	UserName    string    `gorm:"size:50;not null" json:"userName"`
	MessageText string    `gorm:"size:5000;not null" json:"messageText"`
	CreatedAt   time.Time `gorm:"not null;index:idx_chat_messages_room_created,priority:2" json:"createdAt"`
}

// TableName returns the table name for the Message model.
func (Message) TableName() string {
	return "chat_messages"
}

// Presence is the record of one live session joined to a room.
type Presence struct {
	SessionID   string    `json:"sessionId"`
	DisplayName string    `json:"userName"`
	RoomID      string    `json:"roomId"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Roster is a point-in-time view of who is present in a room.
type Roster struct {
	RoomID      string   `json:"roomId"`
	ActiveUsers []string `json:"activeUsers"`
	UserCount   int      `json:"userCount"`
}
