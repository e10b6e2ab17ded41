// Package logger provides structured logging setup for ImageForge.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Config holds logging settings resolved by the config package.
type Config struct {
	Level   string
	Service string
	Async   bool
}

// New creates a *slog.Logger from the given logging config.
// Output is JSON to stdout with a "service" attribute on every record.
// When Async is set, records are handled by a buffered worker; the
// returned Closer flushes it on shutdown.
func New(cfg Config) (*slog.Logger, Closer) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	closer := Closer(nopCloser{})
	if cfg.Async {
		async := NewAsyncHandler(handler, 4096, 1)
		handler = async
		closer = async
	}

	return slog.New(handler).With("service", cfg.Service), closer
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
