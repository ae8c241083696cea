// Package logging builds the slog-backed types.Logger shared by every worker
// entry point.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"eventrelay/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger. slog.Logger
// already has Info/Warn/Error, but its With returns *slog.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

var _ types.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// New returns a JSON logger on stdout at the given level.
func New(level string) (types.Logger, *slog.Logger) {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level string) (types.Logger, *slog.Logger) {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
	return &slogAdapter{logger: logger}, logger
}

// Wrap adapts an existing slog logger.
func Wrap(logger *slog.Logger) types.Logger {
	return &slogAdapter{logger: logger}
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() types.Logger {
	return &slogAdapter{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to slog.Level. Unknown names mean info.
func ParseLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
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
