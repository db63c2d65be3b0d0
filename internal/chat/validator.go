package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxTextBytes = 4096 // 4KB max payload size
	MaxTextChars = 2000 // max character count
)

// ValidateText checks that message text meets content requirements. Empty
// text is allowed here because image messages may carry no caption; the
// text-or-image requirement is enforced by the engine.
func ValidateText(text string) error {
	if len(text) > MaxTextBytes {
		return fmt.Errorf("%w: text exceeds %d byte limit", ErrInvalidPayload, MaxTextBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: text exceeds %d character limit", ErrInvalidPayload, MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: text contains invalid UTF-8", ErrInvalidPayload)
	}
	return nil
}
