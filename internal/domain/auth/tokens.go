package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// generateSecureToken returns n random bytes hex encoded.
func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken is what gets stored; the raw token only goes to the client.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
