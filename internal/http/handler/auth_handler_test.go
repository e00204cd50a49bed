package handler_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/security"
)

func TestLocalRegisterAndMe(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")

	rec := env.do(t, http.MethodGet, "/api/v1/me", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
	var me struct {
		Email string `json:"email"`
	}
	decodeData(t, rec, &me)
	if me.Email != "alice@example.com" {
		t.Fatalf("unexpected me payload: %+v", me)
	}
}

func TestLocalRegisterDuplicateEmail(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"ALICE@example.com","password":"correct horse battery","name":"Twin"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestLocalLoginWrongPassword(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"alice@example.com","password":"wrong horse battery!"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "UNAUTHORIZED" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestOAuthSignUpThenSignIn(t *testing.T) {
	env := newAPITestEnv(t)

	rec := env.oauthDance(t)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/profile" {
		t.Fatalf("expected signup redirect to /profile, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	user, err := env.users.FindByEmail("user@example.com")
	if err != nil {
		t.Fatalf("provider signup created no user: %v", err)
	}
	if _, err := env.creds.FindByUserAndKind(user.ID, "github"); err != nil {
		t.Fatalf("provider signup created no credential: %v", err)
	}

	// Same identity again: a plain sign-in, no second user.
	rec = env.oauthDance(t)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/profile" {
		t.Fatalf("expected sign-in redirect, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestOAuthCollisionBlocksAndStages(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "user@example.com", "correct horse battery")

	rec := env.oauthDance(t)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected blocking redirect, got %d", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if loc != "/link-account/verify?email=user%40example.com&provider=github" {
		t.Fatalf("unexpected location %q", loc)
	}

	// The collision never linked; it only staged.
	user, err := env.users.FindByEmail("user@example.com")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if _, err := env.creds.FindByUserAndKind(user.ID, "github"); err == nil {
		t.Fatal("collision must never create a credential")
	}
	pending, err := env.pending.ListActiveByUser(user.ID, time.Now().UTC())
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one staged link, got %d (%v)", len(pending), err)
	}

	// Marker headers stay inside the process.
	if rec.Header().Get("X-Auth-Link-Collision") != "" || rec.Header().Get("X-Auth-Pending-Link") != "" {
		t.Fatal("marker headers leaked to the client")
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	env := newAPITestEnv(t)
	// Start the dance to plant a state cookie, then answer with a forged state.
	rec := env.do(t, http.MethodGet, "/api/v1/auth/github/login", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("provider login: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/auth/github/callback?code=c&state=forged", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on state mismatch, got %d", rec.Code)
	}
}

func TestCallbackUpstreamDenialRedirects(t *testing.T) {
	env := newAPITestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/auth/github/callback?error=access_denied", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=oauth_denied") {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")
	oldRefresh := env.jar[security.RefreshTokenCookie].Value

	rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", env.withCSRF(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	if env.jar[security.RefreshTokenCookie].Value == oldRefresh {
		t.Fatal("refresh must rotate the refresh token")
	}

	// The superseded token is revoked.
	rec = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", env.withCSRF(t), func(r *http.Request) {
		r.Header.Del("Cookie")
		for name, c := range env.jar {
			if name == security.RefreshTokenCookie {
				r.AddCookie(&http.Cookie{Name: name, Value: oldRefresh})
				continue
			}
			r.AddCookie(c)
		}
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for superseded refresh token, got %d", rec.Code)
	}
}

func TestRefreshRequiresCSRFHeader(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf header, got %d", rec.Code)
	}
}

func TestLinkContextAfterBlockedCollision(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "user@example.com", "correct horse battery")
	env.oauthDance(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/link-context?error=account_not_linked", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("link-context: %d %s", rec.Code, rec.Body.String())
	}
	var ctx struct {
		Error       string `json:"error"`
		Provider    string `json:"provider"`
		Email       string `json:"email"`
		EmailSource string `json:"email_source"`
	}
	decodeData(t, rec, &ctx)
	if ctx.Provider != "github" || ctx.Email != "user@example.com" || ctx.EmailSource != "cookie" {
		t.Fatalf("unexpected context %+v", ctx)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "alice@example.com", "correct horse battery")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/logout", "", env.withCSRF(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/v1/me", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}
