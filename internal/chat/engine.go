package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/converse/chat-app/internal/metrics"
	"github.com/converse/chat-app/internal/presence"
	"github.com/converse/chat-app/internal/profile"
	"github.com/converse/chat-app/internal/rooms"
)

// ProfileResolver looks up the identity of a user. Lookup failures are
// recovered locally with profile.Placeholder; they never fail the request.
type ProfileResolver interface {
	Lookup(ctx context.Context, userID string) (profile.Profile, error)
}

// Engine is the message delivery engine and seen-state synchronizer. It is
// invoked by the transport handlers after authentication has resolved a
// user ID.
type Engine struct {
	store    Storage
	pub      Publisher
	presence *presence.Registry
	rooms    *rooms.Tracker
	profiles ProfileResolver

	now func() time.Time // injectable for tests
}

// NewEngine wires the engine to its collaborators.
func NewEngine(store Storage, pub Publisher, reg *presence.Registry, tracker *rooms.Tracker, profiles ProfileResolver) *Engine {
	return &Engine{
		store:    store,
		pub:      pub,
		presence: reg,
		rooms:    tracker,
		profiles: profiles,
		now:      time.Now,
	}
}

// SendInput is the payload of a send-message request.
type SendInput struct {
	ChatID  string
	Text    string
	Image   *Image
	ReplyTo string // message ID being replied to, if any
}

// SendMessage validates and persists a new message, updates the chat's
// latest-message summary, and notifies the room channel plus both
// participants' personal channels. Immediate-seen is decided before the
// write: if the receiver's live connection has the chat room joined, the
// message is persisted with seen=true and a messagesSeen notification goes
// to the sender's personal channel alongside the newMessage events.
func (e *Engine) SendMessage(ctx context.Context, senderID string, in SendInput) (*Message, error) {
	if senderID == "" {
		return nil, ErrUnauthenticated
	}
	if in.ChatID == "" {
		return nil, fmt.Errorf("%w: chat ID is required", ErrInvalidPayload)
	}
	if in.Text == "" && in.Image == nil {
		return nil, fmt.Errorf("%w: either text or image is required", ErrInvalidPayload)
	}
	if err := ValidateText(in.Text); err != nil {
		return nil, err
	}

	chatDoc, err := e.store.GetChat(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !chatDoc.IsParticipant(senderID) {
		return nil, ErrForbidden
	}

	otherUserID := chatDoc.Counterpart(senderID)
	if otherUserID == "" {
		return nil, ErrParticipantMissing
	}

	var replyTo *ReplyRef
	if in.ReplyTo != "" {
		original, err := e.store.GetMessage(ctx, in.ReplyTo)
		if err != nil {
			return nil, err
		}
		snippet := original.Text
		if snippet == "" {
			snippet = "Image"
		}
		replyTo = &ReplyRef{
			MessageID: original.ID,
			Text:      snippet,
			Sender:    original.Sender,
		}
	}

	// Immediate-seen: the receiver is online and actively viewing this chat.
	seen := false
	if connID, online := e.presence.Lookup(otherUserID); online {
		seen = e.rooms.IsMember(connID, in.ChatID)
	}

	msg := &Message{
		ChatID:      in.ChatID,
		Sender:      senderID,
		Text:        in.Text,
		MessageType: MessageTypeText,
		ReplyTo:     replyTo,
		Seen:        seen,
	}
	if seen {
		at := e.now()
		msg.SeenAt = &at
	}
	if in.Image != nil {
		msg.Image = in.Image
		msg.MessageType = MessageTypeImage
	}

	saved, err := e.store.CreateMessage(ctx, msg)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	latestText := in.Text
	if in.Image != nil {
		latestText = ImagePlaceholder
	}
	if err := e.store.UpdateChatLatestMessage(ctx, in.ChatID, LatestMessage{
		Text:   latestText,
		Sender: senderID,
	}); err != nil {
		// The message is durably stored; a stale summary self-heals on the
		// next message. Still surface the storage failure to the caller.
		return nil, fmt.Errorf("chat: update latest message: %w", err)
	}

	e.pub.EmitToRoom(in.ChatID, EventNewMessage, saved)
	e.pub.EmitToUser(otherUserID, EventNewMessage, saved)
	e.pub.EmitToUser(senderID, EventNewMessage, saved)

	if seen {
		e.pub.EmitToUser(senderID, EventMessagesSeen, MessagesSeenEvent{
			ChatID:     in.ChatID,
			SeenBy:     otherUserID,
			MessageIDs: []string{saved.ID},
		})
		metrics.SeenNotificationsTotal.Inc()
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return saved, nil
}

// ChatView is the result of opening a chat: the full ordered history plus
// the counterpart's identity.
type ChatView struct {
	Messages []*Message      `json:"messages"`
	User     profile.Profile `json:"user"`
}

// OpenChat marks the backlog authored by others as seen, returns the full
// message history oldest-first, and notifies the counterpart's personal
// channel with the newly-seen message IDs. A second open of the same chat
// finds nothing unseen and emits nothing.
func (e *Engine) OpenChat(ctx context.Context, userID, chatID string) (*ChatView, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat ID is required", ErrInvalidPayload)
	}

	chatDoc, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chatDoc.IsParticipant(userID) {
		return nil, ErrForbidden
	}

	otherUserID := chatDoc.Counterpart(userID)
	if otherUserID == "" {
		return nil, ErrParticipantMissing
	}

	// Capture the unseen set before mutating: the notification payload needs
	// the IDs that this open transitions to seen.
	unseen, err := e.store.FindUnseenMessages(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	if len(unseen) > 0 {
		patch := SeenPatch{Seen: true, SeenAt: e.now()}
		if _, err := e.store.MarkSeen(ctx, chatID, userID, patch); err != nil {
			return nil, err
		}
	}

	history, err := e.store.FindMessagesByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	if len(unseen) > 0 {
		ids := make([]string, len(unseen))
		for i, m := range unseen {
			ids[i] = m.ID
		}
		e.pub.EmitToUser(otherUserID, EventMessagesSeen, MessagesSeenEvent{
			ChatID:     chatID,
			SeenBy:     userID,
			MessageIDs: ids,
		})
		metrics.SeenNotificationsTotal.Inc()
	}

	return &ChatView{
		Messages: history,
		User:     e.resolveProfile(ctx, otherUserID),
	}, nil
}

// CreateChat creates a private chat between userID and otherUserID, or
// returns the existing one. The second return value reports whether a new
// chat was created.
func (e *Engine) CreateChat(ctx context.Context, userID, otherUserID string) (*Chat, bool, error) {
	if userID == "" {
		return nil, false, ErrUnauthenticated
	}
	if otherUserID == "" {
		return nil, false, fmt.Errorf("%w: other user ID is required", ErrInvalidPayload)
	}
	if otherUserID == userID {
		return nil, false, fmt.Errorf("%w: cannot chat with yourself", ErrInvalidPayload)
	}

	existing, err := e.store.FindPrivateChat(ctx, userID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	created, err := e.store.CreateChat(ctx, userID, otherUserID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// ChatSummary is one entry of a user's chat list: the chat with its
// denormalized latest message, the counterpart's identity, and the number of
// messages the requester has not yet seen.
type ChatSummary struct {
	User        profile.Profile `json:"user"`
	Chat        *Chat           `json:"chat"`
	UnseenCount int             `json:"unseenCount"`
}

// ListChats returns the user's chats ordered by most recent activity.
func (e *Engine) ListChats(ctx context.Context, userID string) ([]ChatSummary, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	chats, err := e.store.ListChatsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		unseen, err := e.store.CountUnseen(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, ChatSummary{
			User:        e.resolveProfile(ctx, c.Counterpart(userID)),
			Chat:        c,
			UnseenCount: unseen,
		})
	}
	return summaries, nil
}

// JoinChat marks the connection as actively viewing the chat room after
// verifying the user is a participant. Messages arriving while the room is
// joined are persisted already seen.
func (e *Engine) JoinChat(ctx context.Context, userID, connID, chatID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}

	c, err := e.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !c.IsParticipant(userID) {
		return ErrForbidden
	}

	e.rooms.Join(connID, chatID)
	return nil
}

// LeaveChat removes the connection from the chat room. Leaving a room that
// was never joined is a no-op.
func (e *Engine) LeaveChat(connID, chatID string) {
	e.rooms.Leave(connID, chatID)
}

// RelayTyping broadcasts a typing indicator to the chat room. Nothing is
// persisted and membership is not re-checked against storage; a bogus chat ID
// simply reaches an empty room.
func (e *Engine) RelayTyping(userID, chatID string, isTyping bool) {
	if userID == "" || chatID == "" {
		return
	}
	e.pub.EmitToRoom(chatID, EventTyping, TypingEvent{
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: isTyping,
	})
}

// resolveProfile looks up a user's identity, degrading to the placeholder on
// any failure so the overall request never fails on the profile service.
func (e *Engine) resolveProfile(ctx context.Context, userID string) profile.Profile {
	if e.profiles == nil {
		return profile.Placeholder(userID)
	}
	p, err := e.profiles.Lookup(ctx, userID)
	if err != nil {
		log.Printf("chat: profile lookup failed for user=%s: %v", userID, err)
		return profile.Placeholder(userID)
	}
	return p
}
