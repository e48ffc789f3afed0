package contacts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidHandle is returned when a raw identity cannot be normalized
// into a comparable phone number or email.
var ErrInvalidHandle = errors.New("invalid handle")

var servicePrefixes = []string{"imessage:", "sms:", "tel:"}

// Normalize canonicalizes a raw handle (phone number or email, possibly
// service-prefixed) into a comparable form: a lower-cased email, or an
// E.164-style phone number with a leading "+". Bare 10-digit US numbers
// get the "1" country code prepended; longer digit sequences are kept
// as-is. Normalization is idempotent.
func Normalize(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range servicePrefixes {
		h = strings.TrimPrefix(h, p)
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return "", fmt.Errorf("%w: empty handle", ErrInvalidHandle)
	}

	if strings.Contains(h, "@") {
		return h, nil
	}

	var digits strings.Builder
	for _, c := range h {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	d := digits.String()
	switch {
	case len(d) < 10:
		return "", fmt.Errorf("%w: %q has too few digits for a phone number", ErrInvalidHandle, raw)
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) <= 15:
		return "+" + d, nil
	default:
		return "", fmt.Errorf("%w: %q has too many digits for a phone number", ErrInvalidHandle, raw)
	}
}
