package logging

import (
	"log/slog"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_FormatsAndOutputs(t *testing.T) {
	formats := []string{"json", "text", ""}
	outputs := []string{"stdout", "stderr", ""}

	for _, f := range formats {
		for _, o := range outputs {
			logger := New(config.LoggingConfig{Level: "info", Format: f, Output: o}, "test")
			if logger == nil || logger.Logger == nil {
				t.Fatalf("New(format=%q, output=%q) returned nil logger", f, o)
			}
		}
	}
}

func TestWith_ReturnsNewLogger(t *testing.T) {
	base := Default()
	derived := base.With("component", "server")

	if derived == base {
		t.Error("With() should return a new logger instance")
	}
	if derived.Logger == nil {
		t.Error("With() returned logger with nil slog.Logger")
	}
}
