package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gatherly-app/gatherly-backend/internal/observability"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner drives the readiness endpoint. Probes run in parallel, each
// under its own timeout, so one slow dependency cannot starve the rest.
type ProbeRunner struct {
	checkers  []Checker
	timeout   time.Duration
	startedAt time.Time
}

func NewProbeRunner(timeout time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	live := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			live = append(live, c)
		}
	}
	return &ProbeRunner{checkers: live, timeout: timeout, startedAt: time.Now()}
}

func (r *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if r == nil {
		return true, nil
	}
	results := make([]CheckResult, len(r.checkers))
	var mu sync.Mutex
	allHealthy := true

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range r.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			start := time.Now()
			res := c.Check(checkCtx)
			observability.RecordHealthCheckDuration(ctx, res.Name, time.Since(start))
			outcome := "healthy"
			if !res.Healthy {
				outcome = "unhealthy"
			}
			observability.RecordHealthCheckResult(ctx, res.Name, outcome)
			mu.Lock()
			results[i] = res
			if !res.Healthy {
				allHealthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return allHealthy, results
}
