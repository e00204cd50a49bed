package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gatherly-app/gatherly-backend/internal/http/response"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/security"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// AuthMiddleware accepts the access token from the session cookie or, for
// non-browser clients, a bearer header. Cookie wins when both are present.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := "", "cookie"
			if ck, err := r.Cookie(security.AccessTokenCookie); err == nil {
				raw = ck.Value
			}
			if raw == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					raw = strings.TrimSpace(auth[7:])
					source = "header"
				}
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "ok", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth parses the access token when present but never rejects.
// Callback routes use it: an anonymous visitor is a valid caller there.
func OptionalAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ck, err := r.Cookie(security.AccessTokenCookie); err == nil && ck.Value != "" {
				if claims, err := jwtMgr.ParseAccessToken(ck.Value); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

// SessionUserID returns the authenticated user id or zero.
func SessionUserID(ctx context.Context) uint {
	if c, ok := ClaimsFromContext(ctx); ok {
		return c.UserID
	}
	return 0
}
