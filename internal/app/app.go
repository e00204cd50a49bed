package app

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/gatherly-app/gatherly-backend/internal/config"
	"github.com/gatherly-app/gatherly-backend/internal/health"
	"github.com/gatherly-app/gatherly-backend/internal/observability"
)

// App bundles everything the process owns so main can start and stop it in
// one place.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Readiness     *health.ProbeRunner
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Readiness:     readiness,
	}
}
