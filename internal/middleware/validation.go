package middleware

import (
	"errors"
	"regexp"
)

// MaxIdentifierLength bounds tenant, plan, principal and message IDs.
const MaxIdentifierLength = 64

// Validation errors.
var (
	ErrIdentifierEmpty   = errors.New("identifier is required")
	ErrIdentifierTooLong = errors.New("identifier exceeds maximum length")
	ErrIdentifierInvalid = errors.New("identifier contains invalid characters")
)

// Allowed: a-z, A-Z, 0-9, hyphen, underscore, dot, colon
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// ValidateIdentifier checks an externally supplied ID from a path or body.
func ValidateIdentifier(id string) error {
	if id == "" {
		return ErrIdentifierEmpty
	}
	if len(id) > MaxIdentifierLength {
		return ErrIdentifierTooLong
	}
	if !identifierPattern.MatchString(id) {
		return ErrIdentifierInvalid
	}
	return nil
}
