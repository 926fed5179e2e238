package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New constructs the service logger from LOG_LEVEL and LOG_FORMAT.
func New(service string) *slog.Logger {
	return NewWithWriter(service, os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// NewWithWriter builds a logger writing to w. Format "json" selects the JSON
// handler; anything else uses text.
func NewWithWriter(service string, w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", service)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
