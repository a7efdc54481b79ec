package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/roomlink/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := New(config.LoggingConfig{Level: "info", Format: format, Output: "stderr"}, "1.0.0")
		if logger == nil {
			t.Fatalf("New(%s) returned nil", format)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "gateway")
	if child == nil || child == logger {
		t.Fatal("expected a distinct child logger")
	}
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test-version", &buf)

	logger.Info("test message", "key", "value")
	logger.Debug("filtered out")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", buf.String(), err)
	}

	if entry["service"] != "roomlink" {
		t.Errorf("service = %v, want roomlink", entry["service"])
	}
	if entry["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", entry["version"])
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want 'test message'", entry["msg"])
	}
	if strings.Contains(buf.String(), "filtered out") {
		t.Error("debug entry written at info level")
	}
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomlink.log")
	logger := New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
		File:   config.FileLoggingConfig{Path: path, MaxSize: 1},
	}, "test")

	logger.Info("to file", "object", "relay_1")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "relay_1") {
		t.Errorf("log file = %q, want entry for relay_1", data)
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("nothing should happen")
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, "v", &buf)

	logger.Info("uplink", "auth", "55555", "AUTH_TOKEN", "66666", "node", "kitchen")

	out := buf.String()
	if strings.Contains(out, "55555") || strings.Contains(out, "66666") {
		t.Errorf("secret leaked: %q", out)
	}
	if !strings.Contains(out, "auth="+redacted) || !strings.Contains(out, "node=kitchen") {
		t.Errorf("output = %q", out)
	}
}
