package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/converse/chat-app/internal/presence"
	"github.com/converse/chat-app/internal/profile"
	"github.com/converse/chat-app/internal/rooms"
)

// memStore is an in-memory Storage used by the engine tests.
type memStore struct {
	mu       sync.Mutex
	chats    map[string]*Chat
	messages []*Message
	seq      int
}

func newMemStore() *memStore {
	return &memStore{chats: make(map[string]*Chat)}
}

func (s *memStore) addChat(id string, users ...string) *Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Chat{ID: id, Users: users, CreatedBy: users[0], CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.chats[id] = c
	return c
}

func (s *memStore) CreateChat(_ context.Context, creatorID, otherUserID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c := &Chat{
		ID:        fmt.Sprintf("chat-%d", s.seq),
		Users:     []string{creatorID, otherUserID},
		CreatedBy: creatorID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.chats[c.ID] = c
	return c, nil
}

func (s *memStore) FindPrivateChat(_ context.Context, userA, userB string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if len(c.Users) == 2 && c.IsParticipant(userA) && c.IsParticipant(userB) {
			return c, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetChat(_ context.Context, chatID string) (*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	return c, nil
}

func (s *memStore) ListChatsByUser(_ context.Context, userID string) ([]*Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Chat
	for _, c := range s.chats {
		if c.IsParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) CreateMessage(_ context.Context, msg *Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	stored := *msg
	stored.ID = fmt.Sprintf("msg-%d", s.seq)
	stored.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	s.messages = append(s.messages, &stored)
	return &stored, nil
}

func (s *memStore) GetMessage(_ context.Context, messageID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
}

func (s *memStore) UpdateChatLatestMessage(_ context.Context, chatID string, latest LatestMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	l := latest
	c.LatestMessage = &l
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) FindUnseenMessages(_ context.Context, chatID, excludeSender string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.ChatID == chatID && m.Sender != excludeSender && !m.Seen {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) MarkSeen(_ context.Context, chatID, excludeSender string, patch SeenPatch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ChatID == chatID && m.Sender != excludeSender && !m.Seen {
			m.Seen = patch.Seen
			at := patch.SeenAt
			m.SeenAt = &at
			n++
		}
	}
	return n, nil
}

func (s *memStore) FindMessagesByChat(_ context.Context, chatID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) CountUnseen(ctx context.Context, chatID, excludeSender string) (int, error) {
	msgs, err := s.FindUnseenMessages(ctx, chatID, excludeSender)
	return len(msgs), err
}

// emission is one recorded Publisher call.
type emission struct {
	Target  string // room or user ID
	Kind    string // "room" or "user"
	Event   string
	Payload interface{}
}

// fakePub records emissions for assertions.
type fakePub struct {
	mu        sync.Mutex
	emissions []emission
}

func (p *fakePub) EmitToRoom(roomID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emissions = append(p.emissions, emission{Target: roomID, Kind: "room", Event: event, Payload: payload})
}

func (p *fakePub) EmitToUser(userID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emissions = append(p.emissions, emission{Target: userID, Kind: "user", Event: event, Payload: payload})
}

func (p *fakePub) find(kind, target, event string) []emission {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []emission
	for _, e := range p.emissions {
		if e.Kind == kind && e.Target == target && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// staticProfiles resolves every user to a fixed name, or fails if broken.
type staticProfiles struct {
	broken bool
}

func (s staticProfiles) Lookup(_ context.Context, userID string) (profile.Profile, error) {
	if s.broken {
		return profile.Profile{}, profile.ErrUnavailable
	}
	return profile.Profile{ID: userID, Name: "User " + userID}, nil
}

type fixture struct {
	store    *memStore
	pub      *fakePub
	presence *presence.Registry
	rooms    *rooms.Tracker
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		pub:      &fakePub{},
		presence: presence.NewRegistry(),
		rooms:    rooms.NewTracker(),
	}
	f.engine = NewEngine(f.store, f.pub, f.presence, f.rooms, staticProfiles{})
	return f
}

func TestSendMessage_ReceiverViewingChat(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")
	f.presence.Register("userB", "connB")
	f.rooms.Join("connB", "chatC")

	msg, err := f.engine.SendMessage(context.Background(), "userA", SendInput{ChatID: "chatC", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if !msg.Seen {
		t.Error("message should be seen immediately when receiver has the room joined")
	}
	if msg.SeenAt == nil {
		t.Error("seenAt should be set for an immediately-seen message")
	}

	if got := f.pub.find("room", "chatC", EventNewMessage); len(got) != 1 {
		t.Errorf("expected 1 newMessage room emission, got %d", len(got))
	}
	if got := f.pub.find("user", "userB", EventNewMessage); len(got) != 1 {
		t.Errorf("expected newMessage on receiver personal channel, got %d", len(got))
	}
	if got := f.pub.find("user", "userA", EventNewMessage); len(got) != 1 {
		t.Errorf("expected newMessage echo on sender personal channel, got %d", len(got))
	}

	seenEvents := f.pub.find("user", "userA", EventMessagesSeen)
	if len(seenEvents) != 1 {
		t.Fatalf("expected 1 messagesSeen on sender personal channel, got %d", len(seenEvents))
	}
	ev := seenEvents[0].Payload.(MessagesSeenEvent)
	if ev.ChatID != "chatC" || ev.SeenBy != "userB" {
		t.Errorf("unexpected messagesSeen payload: %+v", ev)
	}
	if len(ev.MessageIDs) != 1 || ev.MessageIDs[0] != msg.ID {
		t.Errorf("messagesSeen should carry the new message ID, got %v", ev.MessageIDs)
	}
}

func TestSendMessage_ReceiverNotInRoom(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")
	f.presence.Register("userB", "connB") // online, but the chat is not open

	msg, err := f.engine.SendMessage(context.Background(), "userA", SendInput{ChatID: "chatC", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if msg.Seen {
		t.Error("message should not be seen when receiver is not viewing the chat")
	}
	if msg.SeenAt != nil {
		t.Error("seenAt should be unset for an unseen message")
	}
	if got := f.pub.find("user", "userA", EventMessagesSeen); len(got) != 0 {
		t.Errorf("no messagesSeen should fire, got %d", len(got))
	}
}

func TestSendMessage_ReceiverOffline(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	msg, err := f.engine.SendMessage(context.Background(), "userA", SendInput{ChatID: "chatC", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if msg.Seen {
		t.Error("message to an offline receiver should be unseen")
	}
	if got := f.pub.find("user", "userA", EventMessagesSeen); len(got) != 0 {
		t.Errorf("no messagesSeen should fire for an offline receiver, got %d", len(got))
	}
	// The personal-channel emissions are still issued; a hub with no live
	// connection for the target silently drops them.
	if got := f.pub.find("room", "chatC", EventNewMessage); len(got) != 1 {
		t.Errorf("room emission should still occur, got %d", len(got))
	}
}

func TestSendMessage_StaleSenderConnectionDoesNotCountAsViewing(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")
	// userB reconnected: old connection had the room joined, the new one
	// does not. Presence points at the new connection.
	f.rooms.Join("connB-old", "chatC")
	f.presence.Register("userB", "connB-old")
	f.presence.Register("userB", "connB-new")

	msg, err := f.engine.SendMessage(context.Background(), "userA", SendInput{ChatID: "chatC", Text: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Seen {
		t.Error("membership of a superseded connection must not count as viewing")
	}
}

func TestSendMessage_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	cases := []struct {
		name  string
		input SendInput
	}{
		{"no chat ID", SendInput{Text: "hi"}},
		{"neither text nor image", SendInput{ChatID: "chatC"}},
	}
	for _, tc := range cases {
		_, err := f.engine.SendMessage(context.Background(), "userA", tc.input)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", tc.name, err)
		}
	}

	if len(f.store.messages) != 0 {
		t.Error("rejected sends must not persist anything")
	}
	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	if len(f.pub.emissions) != 0 {
		t.Error("rejected sends must not emit anything")
	}
}

func TestSendMessage_Unauthenticated(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SendMessage(context.Background(), "", SendInput{ChatID: "chatC", Text: "hi"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestSendMessage_ChatNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SendMessage(context.Background(), "userA", SendInput{ChatID: "nope", Text: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessage_NotParticipant(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	_, err := f.engine.SendMessage(context.Background(), "intruder", SendInput{ChatID: "chatC", Text: "hi"})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestSendMessage_ParticipantMissing(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA") // corrupted: single participant

	_, err := f.engine.SendMessage(context.Background(), "userA", SendInput{ChatID: "chatC", Text: "hi"})
	if !errors.Is(err, ErrParticipantMissing) {
		t.Errorf("expected ErrParticipantMissing, got %v", err)
	}
	if len(f.store.messages) != 0 {
		t.Error("message must not be persisted when the counterpart is missing")
	}
}

func TestSendMessage_ImageSummaryPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	msg, err := f.engine.SendMessage(context.Background(), "userA", SendInput{
		ChatID: "chatC",
		Image:  &Image{URL: "https://cdn.example/pic.jpg", PublicID: "pic123"},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageType != MessageTypeImage {
		t.Errorf("expected image message type, got %q", msg.MessageType)
	}

	c, _ := f.store.GetChat(context.Background(), "chatC")
	if c.LatestMessage == nil || c.LatestMessage.Text != ImagePlaceholder {
		t.Errorf("latest message should use the image placeholder, got %+v", c.LatestMessage)
	}
}

func TestSendMessage_ReplyReference(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	original, err := f.engine.SendMessage(context.Background(), "userB", SendInput{ChatID: "chatC", Text: "question?"})
	if err != nil {
		t.Fatalf("send original: %v", err)
	}

	reply, err := f.engine.SendMessage(context.Background(), "userA", SendInput{
		ChatID:  "chatC",
		Text:    "answer",
		ReplyTo: original.ID,
	})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}

	if reply.ReplyTo == nil {
		t.Fatal("reply should carry a reply reference")
	}
	if reply.ReplyTo.MessageID != original.ID || reply.ReplyTo.Sender != "userB" || reply.ReplyTo.Text != "question?" {
		t.Errorf("unexpected reply reference: %+v", reply.ReplyTo)
	}

	_, err = f.engine.SendMessage(context.Background(), "userA", SendInput{
		ChatID:  "chatC",
		Text:    "answer",
		ReplyTo: "no-such-message",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("reply to unknown message: expected ErrNotFound, got %v", err)
	}
}

func TestOpenChat_MarksBacklogSeenAndNotifiesSender(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	ctx := context.Background()
	m1, _ := f.engine.SendMessage(ctx, "userA", SendInput{ChatID: "chatC", Text: "one"})
	m2, _ := f.engine.SendMessage(ctx, "userA", SendInput{ChatID: "chatC", Text: "two"})
	mine, _ := f.engine.SendMessage(ctx, "userB", SendInput{ChatID: "chatC", Text: "mine"})

	view, err := f.engine.OpenChat(ctx, "userB", "chatC")
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}

	if len(view.Messages) != 3 {
		t.Fatalf("expected full history of 3, got %d", len(view.Messages))
	}
	for i := 1; i < len(view.Messages); i++ {
		if view.Messages[i].CreatedAt.Before(view.Messages[i-1].CreatedAt) {
			t.Error("history should be ordered by creation time ascending")
		}
	}

	// Messages authored by userA are now seen; userB's own message untouched.
	for _, m := range view.Messages {
		switch m.ID {
		case m1.ID, m2.ID:
			if !m.Seen {
				t.Errorf("message %s should be marked seen", m.ID)
			}
		case mine.ID:
			if m.Seen {
				t.Error("requester's own message must not be marked seen")
			}
		}
	}

	seenEvents := f.pub.find("user", "userA", EventMessagesSeen)
	if len(seenEvents) != 1 {
		t.Fatalf("expected 1 messagesSeen to the counterpart, got %d", len(seenEvents))
	}
	ev := seenEvents[0].Payload.(MessagesSeenEvent)
	if ev.SeenBy != "userB" || ev.ChatID != "chatC" {
		t.Errorf("unexpected messagesSeen payload: %+v", ev)
	}
	got := append([]string(nil), ev.MessageIDs...)
	sort.Strings(got)
	want := []string{m1.ID, m2.ID}
	sort.Strings(want)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected newly-seen IDs %v, got %v", want, got)
	}

	if view.User.ID != "userA" || view.User.Name != "User userA" {
		t.Errorf("unexpected counterpart profile: %+v", view.User)
	}
}

func TestOpenChat_SecondOpenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	ctx := context.Background()
	f.engine.SendMessage(ctx, "userA", SendInput{ChatID: "chatC", Text: "one"})

	if _, err := f.engine.OpenChat(ctx, "userB", "chatC"); err != nil {
		t.Fatalf("first OpenChat: %v", err)
	}
	before := len(f.pub.find("user", "userA", EventMessagesSeen))

	if _, err := f.engine.OpenChat(ctx, "userB", "chatC"); err != nil {
		t.Fatalf("second OpenChat: %v", err)
	}
	after := len(f.pub.find("user", "userA", EventMessagesSeen))

	if after != before {
		t.Errorf("second open should produce zero newly-seen notifications (before=%d after=%d)", before, after)
	}
}

func TestOpenChat_ProfileLookupFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.engine = NewEngine(f.store, f.pub, f.presence, f.rooms, staticProfiles{broken: true})
	f.store.addChat("chatC", "userA", "userB")

	view, err := f.engine.OpenChat(context.Background(), "userB", "chatC")
	if err != nil {
		t.Fatalf("OpenChat should not fail on a profile outage: %v", err)
	}
	if view.User.ID != "userA" || view.User.Name != "Unknown User" {
		t.Errorf("expected placeholder identity, got %+v", view.User)
	}
}

func TestOpenChat_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	_, err := f.engine.OpenChat(context.Background(), "intruder", "chatC")
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestCreateChat_IdempotentForExistingPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.engine.CreateChat(ctx, "userA", "userB")
	if err != nil || !created {
		t.Fatalf("first CreateChat: created=%v err=%v", created, err)
	}

	second, created, err := f.engine.CreateChat(ctx, "userB", "userA")
	if err != nil {
		t.Fatalf("second CreateChat: %v", err)
	}
	if created {
		t.Error("chat between the same pair should not be created twice")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing chat %s, got %s", first.ID, second.ID)
	}

	if _, _, err := f.engine.CreateChat(ctx, "userA", "userA"); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("self-chat should be rejected, got %v", err)
	}
}

func TestListChats_UnseenCountsAndProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.addChat("chatC", "userA", "userB")

	f.engine.SendMessage(ctx, "userA", SendInput{ChatID: "chatC", Text: "one"})
	f.engine.SendMessage(ctx, "userA", SendInput{ChatID: "chatC", Text: "two"})
	f.engine.SendMessage(ctx, "userB", SendInput{ChatID: "chatC", Text: "own"})

	summaries, err := f.engine.ListChats(ctx, "userB")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(summaries))
	}
	s := summaries[0]
	if s.UnseenCount != 2 {
		t.Errorf("expected 2 unseen (own message excluded), got %d", s.UnseenCount)
	}
	if s.User.ID != "userA" {
		t.Errorf("summary should carry the counterpart, got %+v", s.User)
	}
	if s.Chat.LatestMessage == nil || s.Chat.LatestMessage.Text != "own" {
		t.Errorf("latest message summary should reflect most recent send, got %+v", s.Chat.LatestMessage)
	}
}

func TestRelayTyping(t *testing.T) {
	f := newFixture(t)
	f.engine.RelayTyping("userA", "chatC", true)

	got := f.pub.find("room", "chatC", EventTyping)
	if len(got) != 1 {
		t.Fatalf("expected 1 typing emission, got %d", len(got))
	}
	ev := got[0].Payload.(TypingEvent)
	if ev.UserID != "userA" || !ev.IsTyping {
		t.Errorf("unexpected typing payload: %+v", ev)
	}
}

func TestJoinChat(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	if err := f.engine.JoinChat(context.Background(), "userA", "connA", "chatC"); err != nil {
		t.Fatalf("JoinChat: %v", err)
	}
	if !f.rooms.IsMember("connA", "chatC") {
		t.Error("connection should be a room member after JoinChat")
	}

	f.engine.LeaveChat("connA", "chatC")
	if f.rooms.IsMember("connA", "chatC") {
		t.Error("connection should not be a room member after LeaveChat")
	}
}

func TestJoinChat_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.store.addChat("chatC", "userA", "userB")

	if err := f.engine.JoinChat(context.Background(), "userX", "connX", "chatC"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("JoinChat error = %v, want ErrForbidden", err)
	}
	if f.rooms.IsMember("connX", "chatC") {
		t.Error("forbidden join must not register room membership")
	}
}

func TestJoinChat_ChatNotFound(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.JoinChat(context.Background(), "userA", "connA", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("JoinChat error = %v, want ErrNotFound", err)
	}
}
