package util

import (
	"io"
	"log/slog"
	"os"
)

// InitLogger configures the global slog logger from config values. Level
// accepts debug, info, warn, error (info on unknown input); format is
// "json" or "text" (json on unknown input).
func InitLogger(level, format string) *slog.Logger {
	return initLogger(level, format, os.Stdout)
}

func initLogger(level, format string, w io.Writer) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: true,
	}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
