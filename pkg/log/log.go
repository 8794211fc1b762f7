package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Setup(logLevel string) {
	SetupWriter(os.Stderr, logLevel)
}

// SetupWriter installs a text handler writing to w as the default logger
func SetupWriter(w io.Writer, logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	})))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
