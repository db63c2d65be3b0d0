package chat

import "errors"

// Sentinel errors returned by the engine. Validation errors short-circuit
// before any persistence or emission; persistence errors from the Storage
// collaborator are wrapped and propagated as-is.
var (
	// ErrUnauthenticated means no user identity could be resolved for the
	// request.
	ErrUnauthenticated = errors.New("chat: unauthenticated")

	// ErrInvalidPayload means a required field is missing or malformed
	// (no chat ID, neither text nor image, oversized text).
	ErrInvalidPayload = errors.New("chat: invalid payload")

	// ErrNotFound means the referenced chat or message does not exist.
	ErrNotFound = errors.New("chat: not found")

	// ErrForbidden means the requester is not a participant of the chat.
	ErrForbidden = errors.New("chat: not a participant")

	// ErrParticipantMissing means the chat has no counterpart participant.
	// This is a data-integrity anomaly; the message is not persisted.
	ErrParticipantMissing = errors.New("chat: no other participant")
)
