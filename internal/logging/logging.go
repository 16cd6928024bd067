// Package logging configures the process-wide structured logger. The
// handler and level are selected by environment-driven settings rather
// than hardcoded, the same shape used across the example corpus's ambient
// logging packages, reimplemented here directly against log/slog.
package logging

import (
	"log/slog"
	"os"

	"github.com/pi-parallel/parallel/internal/config"
)

// Init builds the process slog.Logger for the given service name and
// installs it as the default logger.
func Init(service string, cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.JSONLog {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
