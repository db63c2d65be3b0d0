// Package mailer delivers OTP verification emails. Delivery requests arrive
// on a NATS queue subject so that any mailer instance in the group can pick
// them up, and the actual SMTP send sits behind a small Sender interface.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// OTPMail is the payload published on the mail.otp subject by the service
// that generates verification codes.
type OTPMail struct {
	To   string `json:"to"`
	Name string `json:"name"`
	OTP  string `json:"otp"`
}

// Sender sends a single email. Implementations must be safe for concurrent
// use since the NATS consumer may process messages in parallel.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Addr     string // host:port of the SMTP server
	From     string // sender address, e.g. "noreply@converse.app"
	Username string
	Password string
}

// SMTPSender sends mail through an SMTP relay with PLAIN auth.
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender creates a Sender backed by the configured SMTP relay.
func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send composes an RFC 5322 message and submits it via net/smtp.
func (s *SMTPSender) Send(to, subject, body string) error {
	host := s.config.Addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.config.From, to, subject, body)

	if err := smtp.SendMail(s.config.Addr, auth, s.config.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("mailer: smtp send to %s: %w", to, err)
	}
	return nil
}

// RenderOTP builds the subject and body for an OTP verification email.
func RenderOTP(m OTPMail) (subject, body string) {
	name := m.Name
	if name == "" {
		name = "there"
	}
	subject = "Your verification code"
	body = fmt.Sprintf("Hi %s,\n\nYour verification code is %s. It expires in 10 minutes.\n\nIf you did not request this code, you can safely ignore this email.\n", name, m.OTP)
	return subject, body
}
