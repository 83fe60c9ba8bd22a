package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/platform/logger"
)

// setupAppLogger installs the JSON logger at the configured level as the
// slog default and returns it.
func setupAppLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return l, nil
}
