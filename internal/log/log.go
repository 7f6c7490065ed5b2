// Package log builds the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a text-format [slog.Logger] on stdout. level is matched
// case-insensitively against "debug", "warn", and "error"; anything else,
// including the empty string, means info.
func New(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
