// Package log configures structured logging for all cadenza services.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide text logger at the given level.
// Unknown level names fall back to info.
func Setup(logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns a logger tagged with the originating module.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
