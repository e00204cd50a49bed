package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/gatherly-app/gatherly-backend/internal/app"
	"github.com/gatherly-app/gatherly-backend/internal/config"
	"github.com/gatherly-app/gatherly-backend/internal/database"
	"github.com/gatherly-app/gatherly-backend/internal/health"
	"github.com/gatherly-app/gatherly-backend/internal/http/handler"
	"github.com/gatherly-app/gatherly-backend/internal/http/middleware"
	"github.com/gatherly-app/gatherly-backend/internal/http/router"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
	"github.com/gatherly-app/gatherly-backend/internal/repository"
	"github.com/gatherly-app/gatherly-backend/internal/security"
	"github.com/gatherly-app/gatherly-backend/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewCredentialRepository,
	repository.NewPendingLinkRepository,
	repository.NewSessionRepository,
)

var SecuritySet = wire.NewSet(
	provideJWTManager,
	provideCookieManager,
	provideLinkTokenCodec,
)

var ServiceSet = wire.NewSet(
	service.NewProviderRegistry,
	provideLinkNonceStore,
	provideAuthService,
	provideTokenService,
	service.NewLinkService,
)

var HTTPSet = wire.NewSet(
	handler.NewAuthHandler,
	handler.NewLinkHandler,
	handler.NewOAuthErrorHandler,
	provideCallbackInterceptor,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

// MigrationRunner backs the admin tooling: schema migration plus bootstrap
// admin promotion in one step.
type MigrationRunner struct {
	cfg *config.Config
	db  *gorm.DB
}

func NewMigrationRunner(cfg *config.Config, db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, db: db}
}

func (m *MigrationRunner) Run() error {
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	if err := database.Seed(m.db, m.cfg.BootstrapAdminEmail); err != nil {
		return err
	}
	fmt.Println("migration complete")
	return nil
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	return observability.InitLogger(cfg, runtime.LoggerProvider)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	if err := database.Seed(db, cfg.BootstrapAdminEmail); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.LinkNonceRedisEnabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience,
		cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
}

func provideCookieManager(cfg *config.Config) *security.CookieManager {
	return security.NewCookieManager(cfg.CookieDomain, cfg.CookieSecure, cfg.CookieSameSite, cfg.StateSigningSecret)
}

func provideLinkTokenCodec(cfg *config.Config) *security.LinkTokenCodec {
	return security.NewLinkTokenCodec(cfg.LinkSigningSecret, cfg.LinkAuthTTL)
}

// provideLinkNonceStore picks redis when configured so grants stay single-use
// across replicas, and falls back to the in-process store otherwise.
func provideLinkNonceStore(cfg *config.Config, client *redis.Client) service.LinkNonceStore {
	if cfg.LinkNonceRedisEnabled && client != nil {
		return service.NewRedisLinkNonceStore(client)
	}
	return service.NewMemoryLinkNonceStore()
}

func provideAuthService(
	users repository.UserRepository,
	creds repository.CredentialRepository,
	pending repository.PendingLinkRepository,
	cfg *config.Config,
) *service.AuthService {
	return service.NewAuthService(users, creds, pending, cfg.PendingLinkTTL)
}

func provideTokenService(
	cfg *config.Config,
	jwt *security.JWTManager,
	sessions repository.SessionRepository,
	users repository.UserRepository,
) *service.TokenService {
	return service.NewTokenService(jwt, sessions, users, cfg.RefreshTokenPepper)
}

func provideCallbackInterceptor(
	links *service.LinkService,
	providers *service.ProviderRegistry,
	cookies *security.CookieManager,
	cfg *config.Config,
) *middleware.CallbackInterceptor {
	return middleware.NewCallbackInterceptor(links, providers, cookies, cfg.LinkConfirmURL, cfg.LinkVerifyURL)
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	linkHandler *handler.LinkHandler,
	errorHandler *handler.OAuthErrorHandler,
	interceptor *middleware.CallbackInterceptor,
	jwt *security.JWTManager,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:       authHandler,
		LinkHandler:       linkHandler,
		OAuthErrorHandler: errorHandler,
		Interceptor:       interceptor,
		JWTManager:        jwt,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		AuthRateLimitRPM:  cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:   cfg.APIRateLimitPerMin,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	client *redis.Client,
	readiness *health.ProbeRunner,
) *app.App {
	var universal redis.UniversalClient
	if client != nil {
		universal = client
	}
	return app.New(cfg, logger, server, runtime, db, universal, readiness)
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, client *redis.Client) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if cfg.LinkNonceRedisEnabled && client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, checkers...)
}
