package mailer

import (
	"encoding/json"
	"log"

	"github.com/converse/chat-app/internal/messaging"
	"github.com/converse/chat-app/internal/metrics"
)

// Consumer pulls OTP mail requests off the NATS queue subject and hands them
// to the Sender. Members of the queue group share the work, so running more
// mailer instances increases throughput without duplicate sends.
type Consumer struct {
	nats   *messaging.NATSClient
	sender Sender
}

// NewConsumer creates a Consumer that delivers via the given Sender.
func NewConsumer(nc *messaging.NATSClient, sender Sender) *Consumer {
	return &Consumer{nats: nc, sender: sender}
}

// Start subscribes to the OTP mail subject. Processing happens on the NATS
// callback goroutine; malformed payloads and send failures are logged and
// counted but never crash the consumer.
func (c *Consumer) Start() error {
	return c.nats.SubscribeOTPMail(func(data []byte) {
		c.process(data)
	})
}

func (c *Consumer) process(data []byte) {
	var m OTPMail
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("[mailer] invalid otp payload: %v", err)
		metrics.OTPMailsTotal.WithLabelValues("invalid").Inc()
		return
	}
	if m.To == "" || m.OTP == "" {
		log.Printf("[mailer] otp payload missing recipient or code")
		metrics.OTPMailsTotal.WithLabelValues("invalid").Inc()
		return
	}

	subject, body := RenderOTP(m)
	if err := c.sender.Send(m.To, subject, body); err != nil {
		log.Printf("[mailer] send failed to=%s: %v", m.To, err)
		metrics.OTPMailsTotal.WithLabelValues("error").Inc()
		return
	}

	metrics.OTPMailsTotal.WithLabelValues("sent").Inc()
	log.Printf("[mailer] otp mail sent to=%s", m.To)
}
