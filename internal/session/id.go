package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// GenerateID generates a cryptographically secure session ID.
// 32 bytes = 256 bits of entropy.
func GenerateID() (string, error) {

	const size = 32 // 256 bits

	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil

}

// HashIdentifier derives a non-reversible correlation key from a raw
// visitor identifier (IP, fingerprint). Raw values are never stored;
// only these digests are.
func HashIdentifier(value, salt string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
