package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "json")
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug level to be enabled")
	}
	l.Info("hello", slog.String("guild_id", "1"))
	if !strings.Contains(buf.String(), `"guild_id":"1"`) {
		t.Errorf("json output missing attribute: %s", buf.String())
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	scoped := New(&buf, "info", "text").With("user_id", "42")
	ctx := WithContext(context.Background(), scoped)
	FromContext(ctx).Info("scoped")
	if !strings.Contains(buf.String(), "user_id=42") {
		t.Errorf("scoped logger not returned from context: %s", buf.String())
	}
	if FromContext(context.Background()) != L {
		t.Error("expected global logger for bare context")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
