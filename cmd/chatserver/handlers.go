package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/converse/chat-app/internal/auth"
	"github.com/converse/chat-app/internal/chat"
	"github.com/converse/chat-app/internal/metrics"
	"github.com/converse/chat-app/internal/presence"
	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/ratelimit"
	"github.com/converse/chat-app/internal/ws"
)

// validate checks the struct tags on parsed client messages.
var validate = validator.New()

const requestTimeout = 5 * time.Second

// registerHandlers wires every client message type to its handler. All
// handlers except auth require the connection to be bound to a user first.
func registerHandlers(
	dispatcher *ws.MessageDispatcher,
	engine *chat.Engine,
	verifier *auth.Verifier,
	pres *presence.Registry,
	limiter *ratelimit.Limiter,
) {
	// requireAuth rejects messages from connections that have not completed
	// the auth handshake.
	requireAuth := func(h ws.MessageHandler) ws.MessageHandler {
		return func(conn *ws.Connection, msg interface{}) {
			if !conn.Authenticated() {
				sendError(conn, "unauthenticated", "authenticate first")
				return
			}
			h(conn, msg)
		}
	}

	// -----------------------------------------------------------------------
	// auth — bind the connection to a user via JWT
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeAuth, func(conn *ws.Connection, msg interface{}) {
		authMsg, ok := msg.(protocol.AuthMsg)
		if !ok || validate.Struct(authMsg) != nil {
			sendError(conn, "invalid_payload", "token is required")
			return
		}

		userID, err := verifier.Verify(authMsg.Token)
		if err != nil {
			log.Printf("auth failed conn=%s: %v", conn.ID, err)
			sendError(conn, "unauthenticated", "invalid or expired token")
			return
		}

		// Last connect wins: a newer connection for the same user replaces
		// the presence entry. The superseded transport stays open until the
		// heartbeat reaps it, but it no longer receives personal events.
		conn.UserID = userID
		pres.Register(userID, conn.ID)
		metrics.OnlineUsers.Set(float64(pres.Count()))

		reply(conn, protocol.TypeAuthed, protocol.AuthedMsg{UserID: userID})
		log.Printf("auth ok conn=%s user=%s", conn.ID, userID)
	})

	// -----------------------------------------------------------------------
	// create_chat — idempotent private chat creation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCreateChat, requireAuth(func(conn *ws.Connection, msg interface{}) {
		createMsg, ok := msg.(protocol.CreateChatMsg)
		if !ok || validate.Struct(createMsg) != nil {
			sendError(conn, "invalid_payload", "other_user_id is required")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		c, created, err := engine.CreateChat(ctx, conn.UserID, createMsg.OtherUserID)
		if err != nil {
			sendEngineError(conn, err)
			return
		}

		reply(conn, protocol.TypeChatCreated, protocol.ChatCreatedMsg{
			ChatID:  c.ID,
			Created: created,
		})
	}))

	// -----------------------------------------------------------------------
	// list_chats — chat list with unseen counts
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeListChats, requireAuth(func(conn *ws.Connection, msg interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		summaries, err := engine.ListChats(ctx, conn.UserID)
		if err != nil {
			sendEngineError(conn, err)
			return
		}

		reply(conn, protocol.TypeChatList, protocol.ChatListMsg{Chats: summaries})
	}))

	// -----------------------------------------------------------------------
	// join_chat / leave_chat — room membership for immediate-seen delivery
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinChat, requireAuth(func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinChatMsg)
		if !ok || validate.Struct(joinMsg) != nil {
			sendError(conn, "invalid_payload", "chat_id is required")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		if err := engine.JoinChat(ctx, conn.UserID, conn.ID, joinMsg.ChatID); err != nil {
			sendEngineError(conn, err)
			return
		}
		log.Printf("join_chat conn=%s user=%s chat=%s", conn.ID, conn.UserID, joinMsg.ChatID)
	}))

	dispatcher.Register(protocol.TypeLeaveChat, requireAuth(func(conn *ws.Connection, msg interface{}) {
		leaveMsg, ok := msg.(protocol.LeaveChatMsg)
		if !ok || validate.Struct(leaveMsg) != nil {
			sendError(conn, "invalid_payload", "chat_id is required")
			return
		}

		engine.LeaveChat(conn.ID, leaveMsg.ChatID)
	}))

	// -----------------------------------------------------------------------
	// send_message — persist, fan out, immediate-seen
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, requireAuth(func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok || validate.Struct(sendMsg) != nil {
			sendError(conn, "invalid_payload", "chat_id and text or image are required")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		allowed, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage)
		if !allowed {
			reply(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
			})
			return
		}

		start := time.Now()
		saved, err := engine.SendMessage(ctx, conn.UserID, chat.SendInput{
			ChatID:  sendMsg.ChatID,
			Text:    sendMsg.Text,
			Image:   sendMsg.Image,
			ReplyTo: sendMsg.ReplyTo,
		})
		if err != nil {
			sendEngineError(conn, err)
			return
		}
		metrics.DeliveryLatency.Observe(time.Since(start).Seconds())

		reply(conn, protocol.TypeMessageSent, protocol.MessageSentMsg{Message: saved})
	}))

	// -----------------------------------------------------------------------
	// open_chat — fetch history and mark the backlog seen
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeOpenChat, requireAuth(func(conn *ws.Connection, msg interface{}) {
		openMsg, ok := msg.(protocol.OpenChatMsg)
		if !ok || validate.Struct(openMsg) != nil {
			sendError(conn, "invalid_payload", "chat_id is required")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		view, err := engine.OpenChat(ctx, conn.UserID, openMsg.ChatID)
		if err != nil {
			sendEngineError(conn, err)
			return
		}

		reply(conn, protocol.TypeChatHistory, protocol.ChatHistoryMsg{
			ChatID: openMsg.ChatID,
			View:   view,
		})
	}))

	// -----------------------------------------------------------------------
	// typing — fire-and-forget room relay
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, requireAuth(func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok || validate.Struct(typingMsg) != nil {
			return
		}
		engine.RelayTyping(conn.UserID, typingMsg.ChatID, typingMsg.IsTyping)
	}))
}

// reply marshals and sends a server message, logging failures.
func reply(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("failed to build %s reply conn=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("failed to send %s reply conn=%s: %v", msgType, conn.ID, err)
	}
}

// sendError sends a structured error message to the client.
func sendError(conn *ws.Connection, code, message string) {
	reply(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// sendEngineError maps engine sentinel errors to wire error codes.
func sendEngineError(conn *ws.Connection, err error) {
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		sendError(conn, "unauthenticated", "authenticate first")
	case errors.Is(err, chat.ErrInvalidPayload):
		sendError(conn, "invalid_payload", err.Error())
	case errors.Is(err, chat.ErrNotFound):
		sendError(conn, "not_found", "chat or message not found")
	case errors.Is(err, chat.ErrForbidden):
		sendError(conn, "forbidden", "not a participant of this chat")
	case errors.Is(err, chat.ErrParticipantMissing):
		sendError(conn, "participant_missing", "chat has no counterpart")
	default:
		log.Printf("internal error: %v", err)
		sendError(conn, "internal_error", "something went wrong")
	}
}
