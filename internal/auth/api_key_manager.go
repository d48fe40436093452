package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const apiKeyPrefix = "svy_"

var ErrInvalidAPIKeyFormat = errors.New("invalid API key format")

// GenerateAPIKey returns a plaintext access key of the form svy_<64 hex chars>
// and the SHA-256 hex digest that is stored in place of it.
func GenerateAPIKey() (plainKey, hash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plainKey = apiKeyPrefix + hex.EncodeToString(randomBytes)
	return plainKey, hashAPIKey(plainKey), nil
}

// HashAPIKey validates the key format and returns its stored digest.
func HashAPIKey(plainKey string) (string, error) {
	if !strings.HasPrefix(plainKey, apiKeyPrefix) || len(plainKey) != len(apiKeyPrefix)+64 {
		return "", ErrInvalidAPIKeyFormat
	}
	return hashAPIKey(plainKey), nil
}

func hashAPIKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeHashCompare compares two digests without leaking timing.
func ConstantTimeHashCompare(hash1, hash2 string) bool {
	return subtle.ConstantTimeCompare([]byte(hash1), []byte(hash2)) == 1
}
