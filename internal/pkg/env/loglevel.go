package env

import (
	"fmt"
	"log/slog"
	"strings"
)

// ParseLevel converts "debug", "info", "warn" or "error" (any case) into a slog.Level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// ParseLogLevel reads the LOG_LEVEL environment variable and returns the
// corresponding slog.Level. Falls back to the provided default if the
// variable is empty or unrecognised.
func ParseLogLevel(fallback slog.Level) slog.Level {
	level, err := ParseLevel(Get("LOG_LEVEL", ""))
	if err != nil {
		return fallback
	}
	return level
}
