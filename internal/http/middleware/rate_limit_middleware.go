package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/http/response"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
)

type fixedWindow struct {
	count       int
	windowStart time.Time
}

// RateLimiter is a per-IP fixed-window limiter. Auth endpoints get a tight
// window, the rest of the API a loose one.
type RateLimiter struct {
	mu      sync.Mutex
	store   map[string]*fixedWindow
	cleanup time.Time
	limit   int
	window  time.Duration
	scope   string
}

func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		store:   make(map[string]*fixedWindow),
		cleanup: time.Now().Add(window),
		limit:   limit,
		window:  window,
		scope:   scope,
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, v := range rl.store {
			if now.Sub(v.windowStart) > 2*rl.window {
				delete(rl.store, k)
			}
		}
		rl.cleanup = now.Add(rl.window)
	}

	w, ok := rl.store[key]
	if !ok || now.Sub(w.windowStart) >= rl.window {
		rl.store[key] = &fixedWindow{count: 1, windowStart: now}
		return true, 0
	}
	if w.count >= rl.limit {
		return false, rl.window - now.Sub(w.windowStart)
	}
	w.count++
	return true, 0
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := rl.allow(clientIPKey(r))
			if !allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(retryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
