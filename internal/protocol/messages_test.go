package protocol

import (
	"encoding/json"
	"testing"

	"github.com/converse/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","chat_id":"abc-123","text":"Hello!","reply_to":"msg-9"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ChatID != "abc-123" {
		t.Errorf("expected chat_id %q, got %q", "abc-123", sm.ChatID)
	}
	if sm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", sm.Text)
	}
	if sm.ReplyTo != "msg-9" {
		t.Errorf("expected reply_to %q, got %q", "msg-9", sm.ReplyTo)
	}
}

func TestParseClientMessage_SendMessageWithImage(t *testing.T) {
	input := []byte(`{"type":"send_message","chat_id":"abc-123","image":{"url":"https://cdn.example/a.jpg","publicId":"a1"}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sm := msg.(SendMessageMsg)
	if sm.Image == nil || sm.Image.URL != "https://cdn.example/a.jpg" || sm.Image.PublicID != "a1" {
		t.Errorf("unexpected image payload: %+v", sm.Image)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a newMessage server event
// ---------------------------------------------------------------------------

func TestNewServerMessage_NewMessage(t *testing.T) {
	payload := MessageSentMsg{
		Message: &chat.Message{
			ID:          "msg-1",
			ChatID:      "chat-1",
			Sender:      "userA",
			Text:        "hi",
			MessageType: chat.MessageTypeText,
			Seen:        true,
		},
	}

	data, err := NewServerMessage(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != "newMessage" {
		t.Errorf("expected wire type %q, got %v", "newMessage", result["type"])
	}

	m, ok := result["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message object, got %T", result["message"])
	}
	if m["_id"] != "msg-1" || m["chatId"] != "chat-1" {
		t.Errorf("unexpected message fields: %v", m)
	}
	if m["seen"] != true {
		t.Errorf("expected seen=true, got %v", m["seen"])
	}
}

func TestNewServerMessage_MessagesSeen(t *testing.T) {
	data, err := NewServerMessage(TypeMessagesSeen, chat.MessagesSeenEvent{
		ChatID:     "chat-1",
		SeenBy:     "userB",
		MessageIDs: []string{"msg-1", "msg-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != "messagesSeen" {
		t.Errorf("expected wire type %q, got %v", "messagesSeen", result["type"])
	}
	if result["seenBy"] != "userB" {
		t.Errorf("expected seenBy userB, got %v", result["seenBy"])
	}
	ids, ok := result["messageIds"].([]interface{})
	if !ok || len(ids) != 2 {
		t.Fatalf("expected 2 messageIds, got %v", result["messageIds"])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"auth", `{"type":"auth","token":"abc.def.ghi"}`, TypeAuth},
		{"create_chat", `{"type":"create_chat","other_user_id":"u2"}`, TypeCreateChat},
		{"list_chats", `{"type":"list_chats"}`, TypeListChats},
		{"join_chat", `{"type":"join_chat","chat_id":"id1"}`, TypeJoinChat},
		{"leave_chat", `{"type":"leave_chat","chat_id":"id1"}`, TypeLeaveChat},
		{"send_message", `{"type":"send_message","chat_id":"id1","text":"hi"}`, TypeSendMessage},
		{"open_chat", `{"type":"open_chat","chat_id":"id1"}`, TypeOpenChat},
		{"typing", `{"type":"typing","chat_id":"id1","is_typing":true}`, TypeTyping},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
