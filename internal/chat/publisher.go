package chat

// Realtime event names on the wire.
const (
	EventNewMessage   = "newMessage"
	EventMessagesSeen = "messagesSeen"
	EventTyping       = "typing"
)

// MessagesSeenEvent is the payload of a messagesSeen notification: which
// messages in which chat were just seen, and by whom. It lets the sender's
// UI flip checkmarks without polling.
type MessagesSeenEvent struct {
	ChatID     string   `json:"chatId"`
	SeenBy     string   `json:"seenBy"`
	MessageIDs []string `json:"messageIds"`
}

// TypingEvent is the payload of a typing indicator relayed to a chat room.
type TypingEvent struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Publisher is the fire-and-forget notification capability handed to the
// engine. Implementations never block on delivery and never report the
// absence of a live destination as an error; the durable fallback for a
// missed notification is the next history fetch.
type Publisher interface {
	// EmitToRoom broadcasts an event to every connection that has the room
	// joined.
	EmitToRoom(roomID, event string, payload interface{})

	// EmitToUser delivers an event to the user's current connection, if any
	// (the personal channel).
	EmitToUser(userID, event string, payload interface{})
}
