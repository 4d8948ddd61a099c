package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAPIKey is the stored form of a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
