package observability

import (
	"context"
	"testing"
	"time"
)

func TestRecordHelpersNoPanicWhenUninitialized(t *testing.T) {
	ctx := context.Background()
	metricsMu.Lock()
	appMetrics = nil
	metricsMu.Unlock()

	// Every helper must no-op safely before InitMetrics has run.
	RecordAuthLogin(ctx, "local", "success")
	RecordAuthRefresh(ctx, "success")
	RecordAuthLocalFlow(ctx, "register", "success")
	RecordAuthRequestDuration(ctx, "login", "success", 10*time.Millisecond)
	RecordLinkDecision(ctx, "github", "pass_through")
	RecordLinkStaged(ctx, "github")
	RecordLinkConfirm(ctx, "google", "success")
	RecordLinkNonceEvent(ctx, "consumed")
	RecordLinkGrantEvent(ctx, "github", "issued")
	RecordLinkErrorRoute(ctx, "cookie")
	RecordLinkPendingPurged(ctx, 3)
	RecordRateLimitDecision(ctx, "auth", "allow")
	RecordHealthCheckResult(ctx, "db", "ready")
	RecordHealthCheckDuration(ctx, "db", 5*time.Millisecond)
	RecordAccessTokenValidation(ctx, "ok", "cookie")
	RecordCSRFValidation(ctx, "ok")
	RecordUnlink(ctx, "github", "success")
}
