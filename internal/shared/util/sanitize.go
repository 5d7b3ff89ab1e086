package util

import (
	"errors"
	"strings"
)

// ErrInvalidSegment is returned for identifiers that cannot be used inside a storage key.
var ErrInvalidSegment = errors.New("invalid key segment")

// SafeSegment validates an identifier used as one path segment of a storage key.
// Separators and traversal patterns are rejected rather than rewritten so two
// distinct ids never map to the same key.
func SafeSegment(name string) (string, error) {
	s := strings.TrimSpace(name)
	if s == "" || s == "." || strings.Contains(s, "..") {
		return "", ErrInvalidSegment
	}
	if strings.ContainsAny(s, "/\\\x00") {
		return "", ErrInvalidSegment
	}
	return s, nil
}
