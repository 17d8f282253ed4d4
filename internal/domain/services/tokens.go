package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const secretBytes = 32

// newSecret returns a random client secret and the hash that gets stored
func newSecret() (raw, hash string, err error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken is the storage key of a client secret
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.URLEncoding.EncodeToString(sum[:])
}
