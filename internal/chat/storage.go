package chat

import "context"

// Storage is the persistence collaborator for chats and messages. The engine
// never owns this data; implementations map these calls onto whatever store
// backs the service. Implementations must return ErrNotFound (possibly
// wrapped) when a referenced chat or message does not exist.
type Storage interface {
	// CreateChat persists a new private chat between creator and other and
	// returns it with ID and timestamps assigned.
	CreateChat(ctx context.Context, creatorID, otherUserID string) (*Chat, error)

	// FindPrivateChat returns the existing private chat between the two users,
	// or nil if none exists.
	FindPrivateChat(ctx context.Context, userA, userB string) (*Chat, error)

	// GetChat returns the chat with the given ID.
	GetChat(ctx context.Context, chatID string) (*Chat, error)

	// ListChatsByUser returns all chats the user participates in, most
	// recently active first.
	ListChatsByUser(ctx context.Context, userID string) ([]*Chat, error)

	// CreateMessage persists msg and returns it with ID and CreatedAt
	// assigned. The Seen/SeenAt fields are stored exactly as provided: the
	// engine computes immediate-seen before the write, not as a patch after.
	CreateMessage(ctx context.Context, msg *Message) (*Message, error)

	// GetMessage returns the message with the given ID.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// UpdateChatLatestMessage refreshes the chat's denormalized latest-message
	// summary and bumps its activity timestamp.
	UpdateChatLatestMessage(ctx context.Context, chatID string, latest LatestMessage) error

	// FindUnseenMessages returns the unseen messages in the chat that were
	// authored by someone other than excludeSender.
	FindUnseenMessages(ctx context.Context, chatID, excludeSender string) ([]*Message, error)

	// MarkSeen applies patch to every unseen message in the chat authored by
	// someone other than excludeSender, in one atomic bulk update. Returns the
	// number of messages updated. The seen=false filter makes the update
	// idempotent under concurrent chat-opens.
	MarkSeen(ctx context.Context, chatID, excludeSender string, patch SeenPatch) (int64, error)

	// FindMessagesByChat returns every message in the chat ordered by creation
	// time ascending.
	FindMessagesByChat(ctx context.Context, chatID string) ([]*Message, error)

	// CountUnseen returns the number of unseen messages in the chat authored
	// by someone other than excludeSender.
	CountUnseen(ctx context.Context, chatID, excludeSender string) (int, error)
}
