package infra

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v; want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewLogger_RotatingFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer := NewLogger(LoggingConfig{Level: "warn", File: "arb.log", JSON: true, MaxSizeMB: 1}, dir)

	logger.Info("dropped below level")
	logger.Warn("ORDER_AMBIGUOUS", slog.String("id", "abc"))
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "arb.log"))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "dropped below level") {
		t.Error("info record written at warn level")
	}
	for _, want := range []string{`"msg":"ORDER_AMBIGUOUS"`, `"id":"abc"`, `"app":"arbitrage"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %s: %s", want, out)
		}
	}
}

func TestNewLogger_StdoutOnly(t *testing.T) {
	logger, closer := NewLogger(LoggingConfig{Level: "info"}, t.TempDir())
	if logger == nil {
		t.Fatal("nil logger")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
