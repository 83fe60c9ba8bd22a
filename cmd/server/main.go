// Package main runs the taskpump host: the admin API, which pumps the task
// queue after each request, plus one-shot modes for cron and migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskpump/internal/redact"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configFile string
	migrate    string
	pumpOnce   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "path to a config file (default: ./config.yaml if present)")
	flag.StringVar(&opts.migrate, "migrate", "", "run a migration command (up, down, reset, status, version) and exit")
	flag.BoolVar(&opts.pumpOnce, "pump-once", false, "run a single pump activation and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		slog.Error("taskpump exited with error", "error", redact.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.migrate != "" && opts.pumpOnce {
		return errors.New("-migrate and -pump-once are mutually exclusive")
	}

	cfg, err := loadAppConfig(opts.configFile)
	if err != nil {
		return err
	}
	logger, err := setupAppLogger(cfg)
	if err != nil {
		return err
	}

	if opts.migrate != "" {
		return handleMigrations(ctx, cfg, opts.migrate, logger)
	}

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	if opts.pumpOnce {
		_, err := app.pumpOnce(ctx)
		return err
	}
	return app.Run(ctx)
}
