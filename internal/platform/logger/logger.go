package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/taskpump/internal/config"
)

// Setup builds the JSON logger described by cfg, writing to stdout, and
// installs it as the slog default.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	logger := New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	return logger, nil
}

// New returns a JSON logger writing to w at the named level. Unknown levels
// fall back to info with a warning on stderr.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a case-insensitive level name onto a slog.Level.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", name,
			"default_level", "info")
		return slog.LevelInfo
	}
}
