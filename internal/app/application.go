// Package app wires the conversation core together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"learnbridge/internal/api"
	"learnbridge/internal/auth"
	"learnbridge/internal/backplane"
	"learnbridge/internal/config"
	"learnbridge/internal/database"
	"learnbridge/internal/hub"
	"learnbridge/internal/router"
	"learnbridge/internal/session"
	"learnbridge/internal/websocket"
	"learnbridge/pkg/interfaces"
	dbconfig "learnbridge/pkg/database"
)

const limiterCleanupInterval = time.Minute

// Application owns every component of one server instance
type Application struct {
	config     *config.Config
	logger     zerolog.Logger
	store      interfaces.Store
	sessions   *session.Manager
	registry   *websocket.Registry
	limiter    *router.RateLimiter
	hub        *hub.Hub
	backplane  *backplane.Redis
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	serveErr chan error
}

// NewApplication builds the components in dependency order:
// store -> sessions -> registry -> relay -> hub -> gate -> backplane -> HTTP
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(store, session.DefaultTTL, logger)
	registry := websocket.NewRegistry(logger)
	limiter := router.NewRateLimiter(cfg.RateLimit.MessagesPerMinute)
	relay := router.NewRouter(registry, store, store, sessions, limiter, logger)
	messageHub := hub.NewHub(registry, relay, sessions, cfg.WebSocket.StrictSessionJoin, logger)

	resolver := auth.NewJWTResolver(cfg.Auth.JWTSecret, store)
	gate := websocket.NewHandler(registry, resolver, messageHub, websocket.HandlerConfig{
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		BufferSize:       cfg.WebSocket.BufferSize,
	}, logger)

	checks := map[string]interfaces.HealthChecker{"database": store}

	var bp *backplane.Redis
	if cfg.Redis.URL != "" {
		bp, err = backplane.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Channel, registry.Origin(), registry, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize backplane: %w", err)
		}
		registry.SetFanout(bp)
		checks["redis"] = bp
	}

	apiServer := api.NewServer(api.Options{
		WebSocket: gate,
		Checks:    checks,
		Stats: map[string]api.StatsProvider{
			"registry": registry,
			"sessions": sessions,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger)

	return &Application{
		config:    cfg,
		logger:    logger.With().Str("component", "app").Logger(),
		store:     store,
		sessions:  sessions,
		registry:  registry,
		limiter:   limiter,
		hub:       messageHub,
		backplane: bp,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
			Handler:      apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (interfaces.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := database.NewPostgresStore(ctx, cfg.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store, nil
	default:
		dbCfg := dbconfig.DefaultConfig()
		dbCfg.DatabasePath = cfg.Path
		dbCfg.ConnMaxLifetime = cfg.Timeout
		dbCfg.ConnMaxIdleTime = cfg.Timeout / 3
		store, err := database.NewManager(dbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		return store, nil
	}
}

// Start launches the background workers and begins serving. It returns
// once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}
	if app.backplane != nil {
		if err := app.backplane.Start(runCtx); err != nil {
			_ = app.hub.Stop()
			cancel()
			_ = listener.Close()
			return fmt.Errorf("failed to start backplane: %w", err)
		}
	}
	go app.limiter.Run(runCtx, limiterCleanupInterval)
	go app.sessions.Run(runCtx)

	app.listener = listener
	app.cancel = cancel
	app.serveErr = make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info().Str("addr", listener.Addr().String()).Str("driver", app.config.Database.Driver).Bool("backplane", app.backplane != nil).Msg("learnbridge started")
	return nil
}

// Errors reports a fatal serving error; it is closed after shutdown
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Addr returns the bound address, or the configured one before Start
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Stop shuts down in reverse order: HTTP, connections, hub, workers,
// backplane, store
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info().Msg("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// hijacked websocket connections are not tracked by http.Server
	app.registry.CloseAll()

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	app.mu.Lock()
	if app.cancel != nil {
		app.cancel()
	}
	app.mu.Unlock()

	if app.backplane != nil {
		if err := app.backplane.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backplane shutdown: %w", err))
		}
	}
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store shutdown: %w", err))
	}

	app.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}
