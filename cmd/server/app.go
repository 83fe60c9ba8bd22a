package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/events"
	"github.com/phrazzld/taskpump/internal/platform/host"
	"github.com/phrazzld/taskpump/internal/platform/migrate"
	"github.com/phrazzld/taskpump/internal/platform/tracing"
	"github.com/phrazzld/taskpump/internal/service/auth"
	"github.com/phrazzld/taskpump/internal/task"
)

const serviceName = "taskpump"

// application holds the shared dependencies of the host process so they can
// be closed together on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	backend  *storeBackend
	host     *host.Host
	registry *task.Registry
	queue    *task.Queue
	runner   *task.Runner

	jwtService auth.JWTService
	admin      *auth.AdminAuthenticator

	eventEmitter *events.InMemoryEventEmitter
	tracing      bool
}

// newApplication opens the task store, brings its schema up to date and wires
// the queue, runner and authentication.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.Init(serviceName, version, cfg.Tracing.OutputFile); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		app.tracing = true
		logger.Info("tracing enabled", "output_file", cfg.Tracing.OutputFile)
	}

	var err error
	app.backend, err = openStoreBackend(ctx, cfg.Database, logger)
	if err != nil {
		app.cleanup()
		return nil, err
	}
	if err := migrateBackend(ctx, app.backend, migrate.CommandUp, logger); err != nil {
		app.cleanup()
		return nil, err
	}

	app.host, err = host.New(host.Options{
		MaxExecutionSeconds: cfg.Host.MaxExecutionSeconds,
		MemoryLimitBytes:    cfg.Host.MemoryLimitBytes,
	}, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to configure host budget: %w", err)
	}

	app.registry = task.NewRegistry()
	task.RegisterBuiltins(app.registry, logger)

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)
	app.eventEmitter.RegisterHandler(events.LoggingHandler(logger.With("component", "task_events")))

	app.queue = task.NewQueue(app.backend.store, app.registry, app.host.Begin(), taskConfig(cfg.Queue), logger)
	app.queue.SetEventEmitter(app.eventEmitter)
	if err := app.queue.Ready(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("task store not ready: %w", err)
	}
	app.runner = task.NewRunner(app.queue, logger)

	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	app.admin = auth.NewAdminAuthenticator(cfg.Auth.AdminPasswordHash, auth.NewBcryptVerifier(), app.jwtService)
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run serves the admin API until ctx is canceled.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// beginActivation starts the budget of one host activation.
func (app *application) beginActivation() task.Budget {
	return app.host.Begin()
}

// pumpOnce runs a single activation regardless of the automatic execution
// flag, for cron-driven hosts.
func (app *application) pumpOnce(ctx context.Context) (task.PumpResult, error) {
	budget := app.beginActivation()
	result, err := app.runner.Pump(ctx, budget)
	if err != nil {
		return result, fmt.Errorf("pump failed: %w", err)
	}
	app.logger.Info("pump finished",
		"pump_id", result.PumpID,
		"claimed", result.Claimed,
		"stop_reason", result.StopReason,
		"remaining_seconds", budget.RemainingSeconds())
	return result, nil
}

// cleanup releases the store connection and flushes traces.
func (app *application) cleanup() {
	if app.backend != nil {
		app.backend.close(app.logger)
	}

	if app.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			app.logger.Error("failed to flush traces", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
