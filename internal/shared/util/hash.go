package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashKey returns a stable hex SHA-256 digest of s.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first 12 hex characters of HashKey, for log fields.
func ShortHash(s string) string {
	return HashKey(s)[:12]
}
