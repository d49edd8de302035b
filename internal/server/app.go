// Package server initializes and runs the auth server: configuration,
// storage backends, the auth service, the HTTP API, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/taskhive/internal/logging"
	"github.com/taskhive/taskhive/internal/server/config"
	"github.com/taskhive/taskhive/internal/server/httpapi"
	"github.com/taskhive/taskhive/internal/server/repositories/refreshtokens"
	"github.com/taskhive/taskhive/internal/server/repositories/repomanager"
	"github.com/taskhive/taskhive/internal/server/services"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	authService *services.AuthService
	manager     repomanager.RepositoryManager
}

// NewApp validates configuration and wires the application together.
// A validation failure here is fatal: the server must not accept traffic
// with, for example, an unset JWT secret.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	manager, err := repomanager.NewPostgresRepositoryManager(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	// Users always live in Postgres; refresh-token records optionally move
	// to Redis, where TTL-based eviction does the expiry cleanup.
	tokens := manager.RefreshTokens()
	if cfg.TokenStore == config.TokenStoreRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		tokens = refreshtokens.NewRedisRepository(client)
		logger.Info(ctx, "using redis token store", "addr", cfg.RedisAddr)
	}

	authService := services.NewAuthService(manager.Users(), tokens, cfg)

	return &App{
		config:      cfg,
		logger:      logger,
		authService: authService,
		manager:     manager,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger, app.authService)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
