package sessions

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-tg-session-gateway/internal/errors"
)

const maxPhoneDigits = 15 // E.164

// NormalizePhone returns the canonical store key for a phone number.
// Spaces, dashes, dots and parentheses are dropped, an optional leading '+'
// is accepted, and the rest must be digits. The result is "+<digits>".
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	b.Grow(len(s) + 1)
	b.WriteByte('+')
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: unexpected character %q", errors.ErrInvalidIdentity, r)
		}
	}
	if digits == 0 {
		return "", fmt.Errorf("%w: phone is required", errors.ErrInvalidIdentity)
	}
	if digits > maxPhoneDigits {
		return "", fmt.Errorf("%w: more than %d digits", errors.ErrInvalidIdentity, maxPhoneDigits)
	}
	return b.String(), nil
}

// MaskPhone hides all but the last three digits, for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}
