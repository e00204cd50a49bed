package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewRandomString returns a URL-safe random string carrying n bytes of entropy.
func NewRandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("entropy size must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func NewCSRFToken() (string, error) {
	return NewRandomString(32)
}

// NewLinkNonce mints the single-use nonce embedded in linking grants.
func NewLinkNonce() (string, error) {
	return NewRandomString(24)
}
