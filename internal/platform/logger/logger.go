package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls how Setup builds the process logger.
type Config struct {
	// Level is one of debug, info, warn or error (case-insensitive).
	Level string
	// Output receives JSON records. Defaults to os.Stdout.
	Output io.Writer
	// AddSource includes the caller's file and line in every record.
	AddSource bool
}

// ParseLevel maps a configured level name to a slog.Level. The boolean
// result is false when the name is not recognised, in which case
// slog.LevelInfo is returned.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes the application's logging system. It creates a
// structured JSON logger at the configured level, installs it as the
// slog default and returns it.
//
// An unknown level falls back to info and is reported as a warning through
// the new logger rather than failing startup.
func Setup(cfg Config) (*slog.Logger, error) {
	level, ok := ParseLevel(cfg.Level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})
	logger := slog.New(handler)

	slog.SetDefault(logger)

	if !ok {
		logger.Warn("invalid log level configured, using default level",
			slog.String("configured_level", cfg.Level),
			slog.String("default_level", "info"))
	}

	return logger, nil
}
