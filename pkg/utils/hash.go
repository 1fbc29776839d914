package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// ShortHash is the first 16 hex characters of HashString, enough to correlate audit records.
func ShortHash(input string) string {
	return HashString(input)[:16]
}
