package logging

import (
	"log/slog"
	"testing"

	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := New(config.LoggingConfig{
			Level:  "info",
			Format: format,
			Output: "stdout",
		}, "1.0.0")
		if logger == nil {
			t.Fatalf("format %q: nil logger", format)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestWith_ReturnsNewLogger(t *testing.T) {
	base := Default()
	child := base.With("component", "test")
	if child == base {
		t.Error("With returned the same logger")
	}
	if child.Logger == nil {
		t.Error("child logger is nil")
	}
}
