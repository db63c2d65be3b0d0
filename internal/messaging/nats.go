// Package messaging provides a NATS client wrapper for pub/sub messaging
// across Converse services. It handles connection lifecycle, subject-based
// subscriptions, and convenience methods for the realtime event fanout and
// the OTP mail queue.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across Converse services.
const (
	// SubjectRoomPrefix carries realtime events for a chat room:
	// chat.room.<chat_id>. Every server instance subscribes to the wildcard
	// and forwards events to its local room members.
	SubjectRoomPrefix = "chat.room."

	// SubjectUserPrefix carries personal-channel events for a user:
	// chat.user.<user_id>. The instance holding the user's live connection
	// delivers; everyone else drops the event.
	SubjectUserPrefix = "chat.user."

	// SubjectOTPMail is the queue subject for OTP email delivery requests.
	SubjectOTPMail = "mail.otp"

	// otpQueueGroup makes OTP delivery a work queue: one mailer instance
	// handles each request.
	otpQueueGroup = "mailers"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "converse",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishRoomEvent publishes data to the chat.room.<chatID> subject.
func (c *NATSClient) PublishRoomEvent(chatID string, data []byte) error {
	return c.Publish(SubjectRoomPrefix+chatID, data)
}

// PublishUserEvent publishes data to the chat.user.<userID> subject.
func (c *NATSClient) PublishUserEvent(userID string, data []byte) error {
	return c.Publish(SubjectUserPrefix+userID, data)
}

// SubscribeRoomEvents subscribes to all room event subjects. The handler
// receives the room ID and the raw event data.
func (c *NATSClient) SubscribeRoomEvents(handler func(roomID string, data []byte)) error {
	return c.Subscribe(SubjectRoomPrefix+">", func(msg *nats.Msg) {
		handler(strings.TrimPrefix(msg.Subject, SubjectRoomPrefix), msg.Data)
	})
}

// SubscribeUserEvents subscribes to all personal-channel subjects. The
// handler receives the user ID and the raw event data.
func (c *NATSClient) SubscribeUserEvents(handler func(userID string, data []byte)) error {
	return c.Subscribe(SubjectUserPrefix+">", func(msg *nats.Msg) {
		handler(strings.TrimPrefix(msg.Subject, SubjectUserPrefix), msg.Data)
	})
}

// PublishOTPMail publishes an OTP email delivery request to the mail queue.
func (c *NATSClient) PublishOTPMail(data []byte) error {
	return c.Publish(SubjectOTPMail, data)
}

// SubscribeOTPMail subscribes to the OTP mail queue. Requests are distributed
// across the "mailers" queue group so that each email is handled by exactly
// one consumer instance.
func (c *NATSClient) SubscribeOTPMail(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectOTPMail, otpQueueGroup, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s: %w", SubjectOTPMail, err)
	}

	c.mu.Lock()
	c.subs[SubjectOTPMail] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
