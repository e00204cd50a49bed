package handler_test

import (
	"net/http"
	"strings"
	"testing"
)

func TestErrorPageRoutesToVerify(t *testing.T) {
	env := newAPITestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/api/v1/auth/error?error=account_not_linked&provider=github&email=user%40example.com", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/link-account/verify?email=user%40example.com&provider=github" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestErrorPageFallsBackToLogin(t *testing.T) {
	env := newAPITestEnv(t)

	// account_not_linked with no way to resolve an email: back to login with
	// a generic flag, nothing about the account is disclosed.
	rec := env.do(t, http.MethodGet, "/api/v1/auth/error?error=account_not_linked", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?error=account_exists" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestErrorPageRendersNonLinkingErrors(t *testing.T) {
	env := newAPITestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/error?error=oauth_denied", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 html, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "cancelled at the provider") {
		t.Fatalf("denial page missing copy: %s", rec.Body.String())
	}
}

func TestLinkContextEmailFromDescription(t *testing.T) {
	env := newAPITestEnv(t)

	rec := env.do(t, http.MethodGet,
		"/api/v1/auth/link-context?error=account_not_linked&error_description=account+carol%40example.com+exists", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("link-context: %d %s", rec.Code, rec.Body.String())
	}
	var ctx struct {
		Email       string `json:"email"`
		EmailSource string `json:"email_source"`
	}
	decodeData(t, rec, &ctx)
	if ctx.Email != "carol@example.com" || ctx.EmailSource != "description" {
		t.Fatalf("unexpected context %+v", ctx)
	}
}

func TestLinkContextProviderFromReferer(t *testing.T) {
	env := newAPITestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/link-context?error=oauth_failed", "",
		func(r *http.Request) {
			r.Header.Set("Referer", "https://api.gatherly.test/api/v1/auth/github/callback?code=c")
		})
	var ctx struct {
		Provider string `json:"provider"`
	}
	decodeData(t, rec, &ctx)
	if ctx.Provider != "github" {
		t.Fatalf("unexpected provider %q", ctx.Provider)
	}
}

func TestLinkContextHeuristicPrefill(t *testing.T) {
	env := newAPITestEnv(t)
	env.register(t, "recent@example.com", "correct horse battery")

	// No cookie, no description, no query email: the most recently active
	// account without this provider prefills the form, flagged as heuristic.
	rec := env.do(t, http.MethodGet,
		"/api/v1/auth/link-context?error=account_not_linked&provider=github", "")
	var ctx struct {
		Email       string `json:"email"`
		EmailSource string `json:"email_source"`
	}
	decodeData(t, rec, &ctx)
	if ctx.Email != "recent@example.com" || ctx.EmailSource != "heuristic" {
		t.Fatalf("unexpected context %+v", ctx)
	}
}
