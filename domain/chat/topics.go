package chat

const (
	chatTopicPrefix     = "room-chat:"
	presenceTopicPrefix = "room-presence:"
)

// ChatTopic returns the topic chat messages for roomID are published on.
func ChatTopic(roomID string) string {
	return chatTopicPrefix + roomID
}

// PresenceTopic returns the topic roster snapshots for roomID are published on.
func PresenceTopic(roomID string) string {
	return presenceTopicPrefix + roomID
}
