package chat

import (
	"fmt"
	"unicode/utf8"

	"github.com/connecthub/chat-app/internal/apperr"
)

const (
	MaxContentBytes = 4096 // 4KB max payload
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that message content meets the requirements for
// persistence. The returned error carries the validation kind so boundaries
// can map it to a 400 response.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return apperr.Validation("EMPTY_CONTENT", "message content is empty")
	}
	if len(content) > MaxContentBytes {
		return apperr.Validation("CONTENT_TOO_LONG",
			fmt.Sprintf("message exceeds %d byte limit", MaxContentBytes))
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return apperr.Validation("CONTENT_TOO_LONG",
			fmt.Sprintf("message exceeds %d character limit", MaxContentChars))
	}
	if !utf8.ValidString(content) {
		return apperr.Validation("INVALID_CONTENT", "message contains invalid UTF-8")
	}
	return nil
}
