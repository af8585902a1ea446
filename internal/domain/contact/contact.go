// Package contact validates and normalizes subscriber contact details.
package contact

import (
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation must not depend on the host's zoneinfo
)

const domesticCountryDigit = '1'

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// NormalizePhone converts raw input into E.164. The second return value is
// false when the input cannot be a phone number.
func NormalizePhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case len(d) == 10:
		return "+1" + d, true
	case len(d) == 11 && d[0] == domesticCountryDigit:
		return "+" + d, true
	case len(d) >= 11 && len(d) <= 15 && d[0] != '0':
		return "+" + d, true
	default:
		return "", false
	}
}

func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func IsValidEmail(s string) bool {
	if len(s) > 254 {
		return false
	}
	return emailPattern.MatchString(s)
}

// IsValidTimezone fails closed: empty and "Local" resolve on every host but
// are not IANA identifiers.
func IsValidTimezone(name string) bool {
	if name == "" || name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}
