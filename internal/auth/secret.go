// ABOUTME: Device secret generation and hashing
// ABOUTME: Secrets are stored only as BLAKE2b-256 hex digests

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// secretBytes is the entropy of a generated device secret.
const secretBytes = 32

// GenerateSecret returns a new random device secret and its hash.
func GenerateSecret() (secret, hash string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	secret = hex.EncodeToString(buf)
	return secret, HashSecret(secret), nil
}

// HashSecret returns the hex BLAKE2b-256 digest of secret.
func HashSecret(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
