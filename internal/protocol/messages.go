// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/converse/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth        = "auth"
	TypeCreateChat  = "create_chat"
	TypeListChats   = "list_chats"
	TypeJoinChat    = "join_chat"
	TypeLeaveChat   = "leave_chat"
	TypeSendMessage = "send_message"
	TypeOpenChat    = "open_chat"
	TypeTyping      = "typing"
	TypePing        = "ping"
)

// Server -> Client message types. The realtime event names newMessage and
// messagesSeen double as wire type strings so web clients can reuse their
// socket event handlers unchanged.
const (
	TypeAuthed       = "authed"
	TypeChatCreated  = "chat_created"
	TypeChatList     = "chat_list"
	TypeChatHistory  = "chat_history"
	TypeMessageSent  = "message_sent"
	TypeNewMessage   = chat.EventNewMessage
	TypeMessagesSeen = chat.EventMessagesSeen
	TypeRateLimited  = "rate_limited"
	TypeError        = "error"
	TypePong         = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg binds a connection to a user by presenting a JWT access token.
// Every other message type requires the connection to be authenticated first.
type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token" validate:"required"`
}

// CreateChatMsg requests a private chat with another user. Creation is
// idempotent per user pair.
type CreateChatMsg struct {
	Type        string `json:"type"`
	OtherUserID string `json:"other_user_id" validate:"required"`
}

// ListChatsMsg requests the user's chat list with unseen counts.
type ListChatsMsg struct {
	Type string `json:"type"`
}

// JoinChatMsg marks the chat as actively viewed: the connection joins the
// chat room and starts receiving room broadcasts.
type JoinChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id" validate:"required"`
}

// LeaveChatMsg is sent when the user navigates away from a chat view.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id" validate:"required"`
}

// SendMessageMsg submits a new message. Either text or image is required.
type SendMessageMsg struct {
	Type    string      `json:"type"`
	ChatID  string      `json:"chat_id" validate:"required"`
	Text    string      `json:"text" validate:"required_without=Image"`
	Image   *chat.Image `json:"image,omitempty"`
	ReplyTo string      `json:"reply_to,omitempty"`
}

// OpenChatMsg fetches a chat's history and marks the backlog as seen.
type OpenChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id" validate:"required"`
}

// TypingMsg indicates whether the client is currently typing in a chat.
type TypingMsg struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id" validate:"required"`
	IsTyping bool   `json:"is_typing"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthedMsg confirms successful authentication of the connection.
type AuthedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// ChatCreatedMsg carries the result of a create_chat request.
type ChatCreatedMsg struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Created bool   `json:"created"` // false when the chat already existed
}

// ChatListMsg carries the user's chat list.
type ChatListMsg struct {
	Type  string             `json:"type"`
	Chats []chat.ChatSummary `json:"chats"`
}

// ChatHistoryMsg carries a chat's full ordered history after an open_chat.
type ChatHistoryMsg struct {
	Type   string         `json:"type"`
	ChatID string         `json:"chat_id"`
	View   *chat.ChatView `json:"view"`
}

// MessageSentMsg acknowledges a send_message with the persisted message.
type MessageSentMsg struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message"`
}

// RateLimitedMsg is sent when the client exceeded the message rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg communicates an error condition for a client request.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCreateChat:
		var m CreateChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListChats:
		var m ListChatsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOpenChat:
		var m OpenChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
