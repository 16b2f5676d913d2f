package auth

import (
	"fmt"
	"strings"
)

// DefaultPhoneRegion is the country calling code applied to national-format
// numbers ("0xxxxxxxxx") at registration.
const DefaultPhoneRegion = "84"

// NormalizePhone canonicalizes a phone number to international form:
// "+<country code><subscriber>", digits only after the plus. Formatting
// characters are stripped; "00" and a bare national leading zero are
// rewritten. An empty input stays empty (phone is optional). Anything else
// that does not reduce to 7-15 digits fails with ErrInvalidInput.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	plus := strings.HasPrefix(raw, "+")
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')' || r == '+':
			// formatting noise
		default:
			return "", fmt.Errorf("%w: phone contains invalid character %q", ErrInvalidInput, r)
		}
	}
	digits := b.String()
	switch {
	case plus:
		// already international
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		if defaultRegion == "" {
			defaultRegion = DefaultPhoneRegion
		}
		digits = defaultRegion + digits[1:]
	}
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: phone must contain 7-15 digits", ErrInvalidInput)
	}
	return "+" + digits, nil
}
