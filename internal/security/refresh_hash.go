package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HashRefreshToken derives the storage key for a refresh token. Keyed with a
// pepper so a database dump alone cannot be replayed as live tokens.
func HashRefreshToken(token, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
