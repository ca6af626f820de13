// GET  /api/v1/health      # Проверка состояния сервиса и базы (публичный)
// POST /api/v1/sync/batch  # Пакетное применение офлайн-изменений (публичный)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	healthAPI "reliefsync/internal/app/server/api/http/health"
	"reliefsync/internal/app/server/api/http/middleware"
	"reliefsync/internal/app/server/api/http/middleware/logger"
	syncAPI "reliefsync/internal/app/server/api/http/sync"
	"reliefsync/internal/app/server/config"
	"reliefsync/internal/domain/sync"
)

type Handlers struct {
	Health *healthAPI.Handler
	Sync   *syncAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(repo sync.Repository, db healthAPI.Pinger, cfg *config.Config, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(chimw.RealIP, chimw.Recoverer)

	humaConfig := huma.DefaultConfig("ReliefSync API", "1.0.0")
	API := humachi.New(mux, humaConfig)

	h := handlers(repo, db, cfg, log)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)

	return mux
}

func handlers(repo sync.Repository, db healthAPI.Pinger, cfg *config.Config, log *slog.Logger) *Handlers {
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(db, log, middlewares.GetAllAndClear())

	syncService := sync.NewService(repo, log, &sync.ServiceConfig{MaxBatchSize: cfg.Sync.MaxBatchSize})
	middlewares.Add(loggerMW.Middleware())
	syncHandler := syncAPI.NewHandler(syncService, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
	}
}
