// Package logging provides structured logging configuration and utilities.
package logging

import (
	"log/slog"
	"os"
)

// Config holds logging configuration.
type Config struct {
	Level string
	// Pretty switches from JSON to human-readable text output.
	Pretty bool
}

// NewLogger builds a slog.Logger from cfg. Unknown levels fall back to
// info.
func NewLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Pretty {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
