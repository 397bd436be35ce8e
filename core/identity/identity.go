package identity

import (
	"errors"
	"fmt"
	"strings"
)

const (
	registrationIDLength = 10
	emailMaxLength       = 254
)

var (
	// ErrInvalidRegistrationID is returned when the supplied registration
	// identifier does not satisfy the format constraints.
	ErrInvalidRegistrationID = errors.New("identity: invalid registration id")
	// ErrInvalidEmail is returned when the supplied email does not carry the
	// required campus domain suffix.
	ErrInvalidEmail = errors.New("identity: invalid email")
)

// DefaultEmailDomain is the campus domain suffix required for registered
// email addresses.
const DefaultEmailDomain = "@wisc.edu"

// NormalizeRegistrationID validates that the supplied identifier consists of
// exactly ten ASCII digits and returns the trimmed form.
func NormalizeRegistrationID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if len(trimmed) != registrationIDLength {
		return "", fmt.Errorf("%w: must be exactly %d digits", ErrInvalidRegistrationID, registrationIDLength)
	}
	for _, c := range trimmed {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%w: digits only", ErrInvalidRegistrationID)
		}
	}
	return trimmed, nil
}

// NormalizeEmail lowercases the supplied address and validates the campus
// domain suffix.
func NormalizeEmail(email, domain string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if domain == "" {
		domain = DefaultEmailDomain
	}
	if len(trimmed) > emailMaxLength {
		return "", fmt.Errorf("%w: too long", ErrInvalidEmail)
	}
	if len(trimmed) <= len(domain) || !strings.HasSuffix(trimmed, strings.ToLower(domain)) {
		return "", fmt.Errorf("%w: must end with %s", ErrInvalidEmail, domain)
	}
	return trimmed, nil
}
