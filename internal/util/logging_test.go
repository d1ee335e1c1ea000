package util

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger("debug", "json", &buf)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level not enabled")
	}

	logger = initLogger("warn", "json", &buf)
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}

	logger = initLogger("bogus", "json", &buf)
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("unknown level should default to info")
	}
}

func TestInitLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger("info", "json", &buf)
	logger.Info("hello", "key", "value")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("json format expected, got %q", buf.String())
	}

	buf.Reset()
	logger = initLogger("info", "text", &buf)
	logger.Info("hello", "key", "value")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("text format expected, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "key=value") {
		t.Fatalf("text output missing attribute: %q", buf.String())
	}
}
