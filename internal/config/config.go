package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	DatabaseURL string

	JWTIssuer          string
	JWTAudience        string
	JWTAccessSecret    string
	JWTRefreshSecret   string
	JWTAccessTTL       time.Duration
	JWTRefreshTTL      time.Duration
	RefreshTokenPepper string

	StateSigningSecret string
	LinkSigningSecret  string
	LinkAuthTTL        time.Duration
	PendingLinkTTL     time.Duration

	CookieDomain       string
	CookieSecure       bool
	CookieSameSite     string
	CORSAllowedOrigins []string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
	AuthGoogleEnabled  bool
	AuthGitHubEnabled  bool
	AuthLocalEnabled   bool

	// Frontend targets the linking protocol redirects to.
	PostLoginURL   string
	LoginURL       string
	LinkVerifyURL  string
	LinkConfirmURL string

	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	LinkNonceRedisEnabled bool

	AuthRateLimitPerMin int
	APIRateLimitPerMin  int

	BootstrapAdminEmail string

	ReadinessProbeTimeout        time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSamplingRatio    float64
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELLogLevel              string
}

func Load() (*Config, error) {
	env := getEnv("APP_ENV", "development")
	googleClientID := os.Getenv("GOOGLE_OAUTH_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET")
	githubClientID := os.Getenv("GITHUB_OAUTH_CLIENT_ID")
	githubClientSecret := os.Getenv("GITHUB_OAUTH_CLIENT_SECRET")
	googleEnabled := getEnvBool("AUTH_GOOGLE_ENABLED", true)
	if _, explicitlySet := os.LookupEnv("AUTH_GOOGLE_ENABLED"); !explicitlySet &&
		(googleClientID == "" || googleClientSecret == "") && isLocalLikeEnv(env) {
		googleEnabled = false
	}
	githubEnabled := getEnvBool("AUTH_GITHUB_ENABLED", true)
	if _, explicitlySet := os.LookupEnv("AUTH_GITHUB_ENABLED"); !explicitlySet &&
		(githubClientID == "" || githubClientSecret == "") && isLocalLikeEnv(env) {
		githubEnabled = false
	}

	cfg := &Config{
		Env:                   env,
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		JWTIssuer:             getEnv("JWT_ISSUER", "gatherly-backend"),
		JWTAudience:           getEnv("JWT_AUDIENCE", "gatherly-api"),
		JWTAccessSecret:       os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:      os.Getenv("JWT_REFRESH_SECRET"),
		RefreshTokenPepper:    os.Getenv("REFRESH_TOKEN_PEPPER"),
		StateSigningSecret:    os.Getenv("OAUTH_STATE_SECRET"),
		LinkSigningSecret:     os.Getenv("LINK_SIGNING_SECRET"),
		CookieDomain:          os.Getenv("COOKIE_DOMAIN"),
		CookieSecure:          getEnvBool("COOKIE_SECURE", true),
		CookieSameSite:        strings.ToLower(getEnv("COOKIE_SAMESITE", "lax")),
		CORSAllowedOrigins:    splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		GoogleClientID:        googleClientID,
		GoogleClientSecret:    googleClientSecret,
		GoogleRedirectURL:     getEnv("GOOGLE_OAUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),
		GitHubClientID:        githubClientID,
		GitHubClientSecret:    githubClientSecret,
		GitHubRedirectURL:     getEnv("GITHUB_OAUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/github/callback"),
		AuthGoogleEnabled:     googleEnabled,
		AuthGitHubEnabled:     githubEnabled,
		AuthLocalEnabled:      getEnvBool("AUTH_LOCAL_ENABLED", true),
		PostLoginURL:          getEnv("FRONTEND_POST_LOGIN_URL", "/profile"),
		LoginURL:              getEnv("FRONTEND_LOGIN_URL", "/login"),
		LinkVerifyURL:         getEnv("FRONTEND_LINK_VERIFY_URL", "/link-account/verify"),
		LinkConfirmURL:        getEnv("FRONTEND_LINK_CONFIRM_URL", "/link-account/confirm"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		LinkNonceRedisEnabled: getEnvBool("LINK_NONCE_REDIS_ENABLED", !isLocalLikeEnv(env)),
		AuthRateLimitPerMin:   getEnvInt("AUTH_RATE_LIMIT_PER_MIN", 30),
		APIRateLimitPerMin:    getEnvInt("API_RATE_LIMIT_PER_MIN", 120),
		BootstrapAdminEmail:   os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),

		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "gatherly-backend"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", env),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", true),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", true),
		OTELLogsEnabled:          getEnvBool("OTEL_LOGS_ENABLED", true),
		OTELLogLevel:             strings.ToLower(getEnv("OTEL_LOG_LEVEL", "info")),
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"JWT_ACCESS_TTL", "15m", &cfg.JWTAccessTTL},
		{"JWT_REFRESH_TTL", "168h", &cfg.JWTRefreshTTL},
		{"LINK_AUTH_TTL", "5m", &cfg.LinkAuthTTL},
		{"PENDING_LINK_TTL", "1h", &cfg.PendingLinkTTL},
		{"READINESS_PROBE_TIMEOUT", "1s", &cfg.ReadinessProbeTimeout},
		{"SHUTDOWN_TIMEOUT", "20s", &cfg.ShutdownTimeout},
		{"SHUTDOWN_HTTP_DRAIN_TIMEOUT", "10s", &cfg.ShutdownHTTPDrainTimeout},
		{"SHUTDOWN_OBSERVABILITY_TIMEOUT", "8s", &cfg.ShutdownObservabilityTimeout},
		{"OTEL_METRICS_EXPORT_INTERVAL", "10s", &cfg.OTELMetricsExportInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 chars")
	}
	if len(c.JWTRefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 chars")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if len(c.RefreshTokenPepper) < 16 {
		errs = append(errs, "REFRESH_TOKEN_PEPPER must be at least 16 chars")
	}
	if len(c.StateSigningSecret) < 16 {
		errs = append(errs, "OAUTH_STATE_SECRET must be at least 16 chars")
	}
	if len(c.LinkSigningSecret) < 16 {
		errs = append(errs, "LINK_SIGNING_SECRET must be at least 16 chars")
	}
	if c.LinkSigningSecret != "" && c.LinkSigningSecret == c.StateSigningSecret {
		errs = append(errs, "LINK_SIGNING_SECRET and OAUTH_STATE_SECRET must differ")
	}
	if !c.AuthLocalEnabled && !c.AuthGoogleEnabled && !c.AuthGitHubEnabled {
		errs = append(errs, "at least one auth provider must be enabled")
	}
	if c.AuthGoogleEnabled && (c.GoogleClientID == "" || c.GoogleClientSecret == "") {
		errs = append(errs, "GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET are required when AUTH_GOOGLE_ENABLED=true")
	}
	if c.AuthGitHubEnabled && (c.GitHubClientID == "" || c.GitHubClientSecret == "") {
		errs = append(errs, "GITHUB_OAUTH_CLIENT_ID and GITHUB_OAUTH_CLIENT_SECRET are required when AUTH_GITHUB_ENABLED=true")
	}
	if c.JWTAccessTTL <= 0 || c.JWTAccessTTL > time.Hour {
		errs = append(errs, "JWT_ACCESS_TTL must be between 1s and 1h")
	}
	if c.JWTRefreshTTL <= 0 || c.JWTRefreshTTL > (30*24*time.Hour) {
		errs = append(errs, "JWT_REFRESH_TTL must be between 1s and 30d")
	}
	if c.LinkAuthTTL <= 0 || c.LinkAuthTTL > 5*time.Minute {
		errs = append(errs, "LINK_AUTH_TTL must be between 1s and 5m")
	}
	if c.PendingLinkTTL <= 0 || c.PendingLinkTTL > 24*time.Hour {
		errs = append(errs, "PENDING_LINK_TTL must be between 1s and 24h")
	}
	if c.LinkNonceRedisEnabled && c.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR is required when LINK_NONCE_REDIS_ENABLED=true")
	}
	if c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, "AUTH_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.APIRateLimitPerMin <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_MIN must be > 0")
	}
	if (c.OTELMetricsEnabled || c.OTELTracingEnabled || c.OTELLogsEnabled) && c.OTELExporterOTLPEndpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when OTel is enabled")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, "OTEL_METRICS_EXPORT_INTERVAL must be > 0")
	}
	if !isValidLogLevel(c.OTELLogLevel) {
		errs = append(errs, "OTEL_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func isLocalLikeEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch strings.ToLower(v) {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
