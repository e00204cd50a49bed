package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatherly-app/gatherly-backend/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/exemplar"
)

type AppMetrics struct {
	authLoginCounter      metric.Int64Counter
	authRefreshCounter    metric.Int64Counter
	authLocalFlowCounter  metric.Int64Counter
	authReqDuration       metric.Float64Histogram
	linkDecisionCounter   metric.Int64Counter
	linkStageCounter      metric.Int64Counter
	linkConfirmCounter    metric.Int64Counter
	linkNonceCounter      metric.Int64Counter
	linkGrantCounter      metric.Int64Counter
	linkErrorRouteCounter metric.Int64Counter
	linkPendingPurged     metric.Float64Histogram
	rateLimitCounter      metric.Int64Counter
	healthCheckCounter    metric.Int64Counter
	healthCheckDuration   metric.Float64Histogram
	accessTokenValidation metric.Int64Counter
	csrfValidationCounter metric.Int64Counter
	unlinkCounter         metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithExemplarFilter(exemplar.TraceBasedFilter),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "auth.request.duration"},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
				},
			},
		)),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("gatherly-backend")
	m := &AppMetrics{}
	if m.authLoginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if m.authRefreshCounter, err = meter.Int64Counter("auth.refresh.attempts"); err != nil {
		return nil, err
	}
	if m.authLocalFlowCounter, err = meter.Int64Counter("auth.local.flow.events"); err != nil {
		return nil, err
	}
	if m.authReqDuration, err = meter.Float64Histogram("auth.request.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of auth endpoint requests in seconds"),
	); err != nil {
		return nil, err
	}
	if m.linkDecisionCounter, err = meter.Int64Counter("link.callback.decisions",
		metric.WithDescription("Interceptor decisions per OAuth callback"),
	); err != nil {
		return nil, err
	}
	if m.linkStageCounter, err = meter.Int64Counter("link.pending.staged"); err != nil {
		return nil, err
	}
	if m.linkConfirmCounter, err = meter.Int64Counter("link.confirm.attempts"); err != nil {
		return nil, err
	}
	if m.linkNonceCounter, err = meter.Int64Counter("link.nonce.events"); err != nil {
		return nil, err
	}
	if m.linkGrantCounter, err = meter.Int64Counter("link.grant.events"); err != nil {
		return nil, err
	}
	if m.linkErrorRouteCounter, err = meter.Int64Counter("link.error_route.resolutions",
		metric.WithDescription("How the OAuth error page resolved the failed attempt context"),
	); err != nil {
		return nil, err
	}
	if m.linkPendingPurged, err = meter.Float64Histogram("link.pending.purged",
		metric.WithDescription("Expired pending links removed per purge run"),
	); err != nil {
		return nil, err
	}
	if m.rateLimitCounter, err = meter.Int64Counter("http.rate_limit.decisions"); err != nil {
		return nil, err
	}
	if m.healthCheckCounter, err = meter.Int64Counter("health.check.results"); err != nil {
		return nil, err
	}
	if m.healthCheckDuration, err = meter.Float64Histogram("health.check.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of health dependency checks in seconds"),
	); err != nil {
		return nil, err
	}
	if m.accessTokenValidation, err = meter.Int64Counter("auth.access_token.validation.events"); err != nil {
		return nil, err
	}
	if m.csrfValidationCounter, err = meter.Int64Counter("security.csrf.validation.events"); err != nil {
		return nil, err
	}
	if m.unlinkCounter, err = meter.Int64Counter("link.unlink.attempts"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, provider, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

func RecordAuthRefresh(ctx context.Context, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLocalFlow(ctx context.Context, flow, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.authLocalFlowCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flow", flow),
		attribute.String("outcome", outcome),
	))
}

func RecordAuthRequestDuration(ctx context.Context, endpoint, status string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.authReqDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	))
}

// RecordLinkDecision counts interceptor outcomes: pass_through,
// authorized_link or blocked_attempt, per provider.
func RecordLinkDecision(ctx context.Context, provider, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.linkDecisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("decision", decision),
	))
}

func RecordLinkStaged(ctx context.Context, provider string) {
	m := current()
	if m == nil {
		return
	}
	m.linkStageCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func RecordLinkConfirm(ctx context.Context, provider, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.linkConfirmCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func RecordLinkNonceEvent(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.linkNonceCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordLinkGrantEvent(ctx context.Context, provider, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.linkGrantCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func RecordLinkErrorRoute(ctx context.Context, source string) {
	m := current()
	if m == nil {
		return
	}
	m.linkErrorRouteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func RecordLinkPendingPurged(ctx context.Context, count int64) {
	m := current()
	if m == nil {
		return
	}
	m.linkPendingPurged.Record(ctx, float64(count))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckResult(ctx context.Context, check, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.healthCheckCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("outcome", outcome),
	))
}

func RecordHealthCheckDuration(ctx context.Context, check string, duration time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.healthCheckDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("check", check),
	))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.accessTokenValidation.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordCSRFValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.csrfValidationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordUnlink(ctx context.Context, provider, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.unlinkCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}
