// Package logging provides structured logging for ctrlgraph.
//
// It wraps log/slog with level parsing, format selection (JSON for
// production, text for development), and service/version default fields.
// All methods are safe for concurrent use from multiple goroutines.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
)

// Logger wraps slog.Logger with ctrlgraph-specific defaults.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures the output destination, format, level filtering, and the
// service/version default fields carried on every entry.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "ctrlgraph"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts a string log level to slog.Level.
// Supported levels: debug, info, warn, error. Defaults to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a new Logger with additional default attributes.
//
//	busLogger := logger.With("component", "bus")
//	busLogger.Info("connected") // includes component=bus
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default creates a JSON/info logger for use before configuration is
// loaded. It should only be used during early startup.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
