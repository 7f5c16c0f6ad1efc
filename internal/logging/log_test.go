package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.name); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestForAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", &buf)
	defer Init("info", nil)

	For("file-collector").Info("watching", "path", "/tmp/project")

	out := buf.String()
	if !strings.Contains(out, "component=file-collector") {
		t.Errorf("expected component attribute in %q", out)
	}
	if !strings.Contains(out, "path=/tmp/project") {
		t.Errorf("expected path attribute in %q", out)
	}
}
