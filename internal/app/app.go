// Package app wires every collaborator package into one running process:
// Postgres connection and migration, repositories, outbound model/storage
// clients, the validator/executor/coordinator service layer, the gin
// router, and the background worker pool. cmd/server/main.go only ever
// calls New, Start, Run, and Close.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/realestate-ai/enhance-pipeline/internal/config"
	"github.com/realestate-ai/enhance-pipeline/internal/db"
	"github.com/realestate-ai/enhance-pipeline/internal/pkg/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      config.Config
	Repos    Repos
	Clients  Clients
	Services Services

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration")
	cfg := config.Load(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	repos, err := wireRepos(context.Background(), theDB, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("wire repos: %w", err)
	}

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("wire clients: %w", err)
	}

	services := wireServices(cfg, repos, clients, log)
	handlers := wireHandlers(repos, services, clients, log)
	mw := wireMiddleware(log, services)
	router := wireRouter(handlers, mw, log)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    repos,
		Clients:  clients,
		Services: services,
	}, nil
}

// Start launches the worker pool when runWorker is true. It is always
// safe to call on a server-only deployment: runWorker false just never
// spawns a poller.
func (a *App) Start(runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if runWorker && a.Services.Worker != nil {
		a.Services.Worker.Start(ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Repos.indexCloser != nil {
		if err := a.Repos.indexCloser(); err != nil && a.Log != nil {
			a.Log.Warn("closing secondary index fallback failed", "error", err.Error())
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
