package ws

import (
	"log"

	"github.com/converse/chat-app/internal/messaging"
	"github.com/converse/chat-app/internal/presence"
	"github.com/converse/chat-app/internal/protocol"
	"github.com/converse/chat-app/internal/rooms"
)

// Hub fans realtime events out to connected clients. It implements the
// chat.Publisher interface: EmitToRoom targets every connection currently
// viewing a chat room, EmitToUser targets a user's personal channel.
//
// When a NATS client is configured, events are published to NATS subjects
// and delivered to local connections by the bridge subscriptions (see
// StartBridge), so that every server instance sees every event. Without
// NATS the hub delivers directly to local connections, which is sufficient
// for a single instance and for tests.
type Hub struct {
	server   *Server
	presence *presence.Registry
	rooms    *rooms.Tracker
	nats     *messaging.NATSClient // nil when running without NATS
}

// NewHub creates a Hub bound to the given server and registries. Pass a nil
// NATS client to deliver events locally only.
func NewHub(server *Server, pres *presence.Registry, tracker *rooms.Tracker, nc *messaging.NATSClient) *Hub {
	return &Hub{
		server:   server,
		presence: pres,
		rooms:    tracker,
		nats:     nc,
	}
}

// EmitToRoom sends an event to every connection that has joined the room.
// Delivery is fire-and-forget; per-connection write failures are logged and
// do not affect other recipients.
func (h *Hub) EmitToRoom(roomID string, event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s event for room %s: %v", event, roomID, err)
		return
	}

	if h.nats != nil {
		if err := h.nats.PublishRoomEvent(roomID, data); err != nil {
			log.Printf("hub: nats publish failed for room %s: %v", roomID, err)
		}
		return
	}

	h.deliverToRoom(roomID, data)
}

// EmitToUser sends an event to the user's personal channel. Offline users
// are silently skipped; they catch up by fetching history when they next
// open the chat.
func (h *Hub) EmitToUser(userID string, event string, payload interface{}) {
	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("hub: failed to encode %s event for user %s: %v", event, userID, err)
		return
	}

	if h.nats != nil {
		if err := h.nats.PublishUserEvent(userID, data); err != nil {
			log.Printf("hub: nats publish failed for user %s: %v", userID, err)
		}
		return
	}

	h.deliverToUser(userID, data)
}

// StartBridge subscribes to the NATS room and user subjects and delivers
// incoming events to local connections. Every server instance runs a bridge,
// so an event published by any instance reaches clients on all of them.
// It is a no-op when the hub has no NATS client.
func (h *Hub) StartBridge() error {
	if h.nats == nil {
		return nil
	}

	if err := h.nats.SubscribeRoomEvents(func(roomID string, data []byte) {
		h.deliverToRoom(roomID, data)
	}); err != nil {
		return err
	}

	return h.nats.SubscribeUserEvents(func(userID string, data []byte) {
		h.deliverToUser(userID, data)
	})
}

// deliverToRoom writes the already-encoded frame to every local connection
// that is a member of the room.
func (h *Hub) deliverToRoom(roomID string, data []byte) {
	for _, connID := range h.rooms.Members(roomID) {
		c := h.server.Connections().Get(connID)
		if c == nil {
			continue
		}
		if err := c.WriteMessage(data); err != nil {
			log.Printf("hub: room delivery failed conn=%s room=%s: %v", connID, roomID, err)
		}
	}
}

// deliverToUser writes the already-encoded frame to the user's active
// connection, if the user is online on this instance.
func (h *Hub) deliverToUser(userID string, data []byte) {
	connID, ok := h.presence.Lookup(userID)
	if !ok {
		return
	}
	c := h.server.Connections().Get(connID)
	if c == nil {
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("hub: user delivery failed conn=%s user=%s: %v", connID, userID, err)
	}
}
