package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrLinkTokenInvalid = errors.New("linking token invalid")
	ErrLinkTokenExpired = errors.New("linking token expired")
)

// LinkingGrant is the payload of the linking-authorization cookie. It proves
// that the named user re-entered their password moments ago and consented to
// attach the named provider. The nonce ties the grant to a server-side
// single-use record so a replayed cookie cannot authorize twice.
type LinkingGrant struct {
	UserID   uint      `json:"user_id"`
	Provider string    `json:"provider"`
	Nonce    string    `json:"nonce"`
	IssuedAt time.Time `json:"issued_at"`
}

// LinkTokenCodec signs and verifies linking grants with a dedicated HMAC key.
// Parsing fails closed: any structural or signature defect yields
// ErrLinkTokenInvalid, never a partial grant.
type LinkTokenCodec struct {
	secret []byte
	maxAge time.Duration
}

func NewLinkTokenCodec(secret string, maxAge time.Duration) *LinkTokenCodec {
	return &LinkTokenCodec{secret: []byte(secret), maxAge: maxAge}
}

func (c *LinkTokenCodec) MaxAge() time.Duration { return c.maxAge }

func (c *LinkTokenCodec) Encode(grant LinkingGrant) (string, error) {
	if grant.UserID == 0 || grant.Provider == "" || grant.Nonce == "" {
		return "", fmt.Errorf("incomplete linking grant")
	}
	if grant.IssuedAt.IsZero() {
		grant.IssuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(grant)
	if err != nil {
		return "", fmt.Errorf("marshal linking grant: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + c.sign(body), nil
}

// Decode verifies the signature before touching the payload and then checks
// age against the codec's max. Callers must still consume the nonce.
func (c *LinkTokenCodec) Decode(token string, now time.Time) (*LinkingGrant, error) {
	body, sig, found := strings.Cut(token, ".")
	if !found || body == "" || sig == "" {
		return nil, ErrLinkTokenInvalid
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(body))) {
		return nil, ErrLinkTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrLinkTokenInvalid
	}
	var grant LinkingGrant
	if err := json.Unmarshal(payload, &grant); err != nil {
		return nil, ErrLinkTokenInvalid
	}
	if grant.UserID == 0 || grant.Provider == "" || grant.Nonce == "" || grant.IssuedAt.IsZero() {
		return nil, ErrLinkTokenInvalid
	}
	if grant.IssuedAt.After(now.Add(time.Minute)) {
		// Clock skew beyond a minute reads as forgery, not drift.
		return nil, ErrLinkTokenInvalid
	}
	if now.Sub(grant.IssuedAt) > c.maxAge {
		return nil, ErrLinkTokenExpired
	}
	return &grant, nil
}

func (c *LinkTokenCodec) sign(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
