// Package chat implements the message delivery engine and the seen-state
// synchronizer. It owns no persistence: messages and chats live behind the
// Storage collaborator, and realtime notifications go out through a
// fire-and-forget Publisher. Presence and room membership decide where
// notifications are emitted and whether a new message counts as seen
// immediately.
package chat

import "time"

// Message type discriminators.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// ImagePlaceholder is the latest-message summary text used for image messages.
const ImagePlaceholder = "📷 Image"

// Image is an uploaded image attachment: the public URL plus the media
// storage ID needed for later deletion.
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// ReplyRef is a denormalized snapshot of the message being replied to, taken
// at send time so the reply renders even if the original is later unavailable.
type ReplyRef struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
}

// Message is a persisted chat message. Seen state is mutated after creation
// via SeenPatch; messages are never deleted by this core.
type Message struct {
	ID          string     `json:"_id"`
	ChatID      string     `json:"chatId"`
	Sender      string     `json:"sender"`
	Text        string     `json:"text,omitempty"`
	Image       *Image     `json:"image,omitempty"`
	MessageType string     `json:"messageType"`
	ReplyTo     *ReplyRef  `json:"replyTo,omitempty"`
	Seen        bool       `json:"seen"`
	SeenAt      *time.Time `json:"seenAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// SeenPatch is the explicit mutation applied when messages are marked seen.
type SeenPatch struct {
	Seen   bool
	SeenAt time.Time
}

// LatestMessage is the denormalized summary stored on a chat, refreshed on
// every new message.
type LatestMessage struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

// Chat is a persisted private conversation between exactly two users.
type Chat struct {
	ID            string         `json:"_id"`
	Users         []string       `json:"users"`
	CreatedBy     string         `json:"createdBy"`
	LatestMessage *LatestMessage `json:"latestMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// IsParticipant reports whether userID belongs to this chat.
func (c *Chat) IsParticipant(userID string) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the participant who is not userID, or "" if the chat
// has no other participant (a data-integrity anomaly).
func (c *Chat) Counterpart(userID string) string {
	for _, u := range c.Users {
		if u != userID {
			return u
		}
	}
	return ""
}
