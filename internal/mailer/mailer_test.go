package mailer

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type recordingSender struct {
	to      []string
	subject []string
	body    []string
	err     error
}

func (r *recordingSender) Send(to, subject, body string) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	r.subject = append(r.subject, subject)
	r.body = append(r.body, body)
	return nil
}

func TestRenderOTP(t *testing.T) {
	subject, body := RenderOTP(OTPMail{To: "a@example.com", Name: "Alice", OTP: "482913"})

	if subject == "" {
		t.Fatal("subject is empty")
	}
	if !strings.Contains(body, "Alice") {
		t.Errorf("body does not greet the recipient: %q", body)
	}
	if !strings.Contains(body, "482913") {
		t.Errorf("body does not contain the code: %q", body)
	}
}

func TestRenderOTPNoName(t *testing.T) {
	_, body := RenderOTP(OTPMail{To: "a@example.com", OTP: "482913"})

	if !strings.Contains(body, "Hi there") {
		t.Errorf("body should use a generic greeting when name is empty: %q", body)
	}
}

func TestConsumerProcess(t *testing.T) {
	sender := &recordingSender{}
	c := &Consumer{sender: sender}

	payload, _ := json.Marshal(OTPMail{To: "a@example.com", Name: "Alice", OTP: "123456"})
	c.process(payload)

	if len(sender.to) != 1 {
		t.Fatalf("sent %d mails, want 1", len(sender.to))
	}
	if sender.to[0] != "a@example.com" {
		t.Errorf("sent to %q, want a@example.com", sender.to[0])
	}
	if !strings.Contains(sender.body[0], "123456") {
		t.Errorf("body missing code: %q", sender.body[0])
	}
}

func TestConsumerProcessInvalidPayload(t *testing.T) {
	sender := &recordingSender{}
	c := &Consumer{sender: sender}

	c.process([]byte("not json"))
	c.process([]byte(`{"name":"Alice"}`)) // missing recipient and code

	if len(sender.to) != 0 {
		t.Fatalf("sent %d mails for invalid payloads, want 0", len(sender.to))
	}
}

func TestConsumerProcessSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("relay down")}
	c := &Consumer{sender: sender}

	payload, _ := json.Marshal(OTPMail{To: "a@example.com", OTP: "123456"})

	// A send failure must not panic; the message is logged and dropped.
	c.process(payload)
}
