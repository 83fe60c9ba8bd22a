package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/task"
)

// loadAppConfig loads the configuration from defaults, the config file and
// TASKPUMP_* environment variables.
func loadAppConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"driver", cfg.Database.Driver)
	if cfg.Auth.AdminPasswordHash == "" {
		slog.Warn("admin password hash not configured; token endpoint disabled")
	}
	return cfg, nil
}

// taskConfig converts the queue section into the queue's thresholds.
func taskConfig(q config.QueueConfig) task.Config {
	return task.Config{
		MinRemainingSeconds:        q.MinRemainingSeconds,
		MinFreeMemoryFraction:      q.MinFreeMemoryFraction,
		DefaultMaxConcurrentTasks:  q.MaxConcurrentTasks,
		MaxRunningTasksToTrack:     q.MaxRunningTasksToTrack,
		MemoryLeakFraction:         q.MemoryLeakFraction,
		IDSpaceMax:                 q.IDSpaceMax,
		IDGuardFraction:            q.IDGuardFraction,
		IDGuardMinRemainingSeconds: q.IDGuardMinRemainingSeconds,
		DefaultAutoExecution:       q.AutoExecution,
	}
}
