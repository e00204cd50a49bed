package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	CSRFTokenCookie    = "csrf_token"
	OAuthStateCookie   = "oauth_state"

	// Linking protocol cookies. The authorization cookie carries a signed
	// grant; the attempt cookies are short-lived UX hints for the error page.
	LinkingAuthCookie          = "allow_oauth_linking"
	OAuthAttemptEmailCookie    = "oauth_attempt_email"
	OAuthAttemptProviderCookie = "oauth_attempt_provider"
)

var ErrStateMismatch = errors.New("oauth state mismatch")

type CookieManager struct {
	domain      string
	secure      bool
	sameSite    http.SameSite
	stateSecret []byte
}

func NewCookieManager(domain string, secure bool, sameSite string, stateSecret string) *CookieManager {
	return &CookieManager{
		domain:      domain,
		secure:      secure,
		sameSite:    parseSameSite(sameSite),
		stateSecret: []byte(stateSecret),
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c *CookieManager) set(w http.ResponseWriter, name, value string, maxAge time.Duration, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   c.secure,
		HttpOnly: httpOnly,
		SameSite: c.sameSite,
	})
}

func (c *CookieManager) clear(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   -1,
		Secure:   c.secure,
		HttpOnly: httpOnly,
		SameSite: c.sameSite,
	})
}

// SetTokenCookies installs the session cookie triple. The CSRF token is
// readable by scripts so the frontend can echo it in a header.
func (c *CookieManager) SetTokenCookies(w http.ResponseWriter, access, refresh, csrf string, accessTTL, refreshTTL time.Duration) {
	c.set(w, AccessTokenCookie, access, accessTTL, true)
	c.set(w, RefreshTokenCookie, refresh, refreshTTL, true)
	c.set(w, CSRFTokenCookie, csrf, refreshTTL, false)
}

func (c *CookieManager) ClearTokenCookies(w http.ResponseWriter) {
	c.clear(w, AccessTokenCookie, true)
	c.clear(w, RefreshTokenCookie, true)
	c.clear(w, CSRFTokenCookie, false)
}

func (c *CookieManager) GetCookie(r *http.Request, name string) (string, bool) {
	ck, err := r.Cookie(name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// SetStateCookie stores the HMAC-signed CSRF state for the OAuth redirect
// dance. Five minutes covers the consent screen round trip.
func (c *CookieManager) SetStateCookie(w http.ResponseWriter, state string) {
	c.set(w, OAuthStateCookie, c.signState(state), 5*time.Minute, true)
}

// VerifyStateCookie checks the callback state against the signed cookie and
// always clears the cookie, pass or fail.
func (c *CookieManager) VerifyStateCookie(w http.ResponseWriter, r *http.Request, state string) error {
	defer c.clear(w, OAuthStateCookie, true)
	signed, ok := c.GetCookie(r, OAuthStateCookie)
	if !ok || state == "" {
		return ErrStateMismatch
	}
	if !hmac.Equal([]byte(signed), []byte(c.signState(state))) {
		return ErrStateMismatch
	}
	return nil
}

func (c *CookieManager) signState(state string) string {
	mac := hmac.New(sha256.New, c.stateSecret)
	mac.Write([]byte(state))
	return state + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SetLinkingAuthCookie installs the signed linking grant. HttpOnly keeps the
// grant out of reach of the frontend scripts that trigger the OAuth redirect.
func (c *CookieManager) SetLinkingAuthCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	c.set(w, LinkingAuthCookie, token, ttl, true)
}

func (c *CookieManager) ClearLinkingAuthCookie(w http.ResponseWriter) {
	c.clear(w, LinkingAuthCookie, true)
}

// SetAttemptCookies records which provider and email just failed to sign in.
// Script-readable on purpose: the error page prefills from them.
func (c *CookieManager) SetAttemptCookies(w http.ResponseWriter, email, provider string) {
	c.set(w, OAuthAttemptEmailCookie, base64.RawURLEncoding.EncodeToString([]byte(email)), 5*time.Minute, false)
	c.set(w, OAuthAttemptProviderCookie, provider, 5*time.Minute, false)
}

func (c *CookieManager) GetAttemptEmail(r *http.Request) (string, bool) {
	v, ok := c.GetCookie(r, OAuthAttemptEmailCookie)
	if !ok {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (c *CookieManager) ClearAttemptCookies(w http.ResponseWriter) {
	c.clear(w, OAuthAttemptEmailCookie, false)
	c.clear(w, OAuthAttemptProviderCookie, false)
}
