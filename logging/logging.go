// Package logging wraps the standard library's structured logger so
// the rest of Altilium never imports log/slog directly. This mirrors
// how the reference corpus's own slog-based logger package is built,
// keeping the concrete handler choice (JSON vs. text) in one place.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging interface the rest of the codebase depends
// on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config selects the logger's level, output format, and destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or text
	Output io.Writer
}

type slogLogger struct {
	l *slog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) Logger {
	level := parseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}
	return &slogLogger{l: slog.New(handler)}
}

// Discard returns a Logger that drops everything, for tests that
// don't care about log output.
func Discard() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.DebugContext(context.Background(), msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.InfoContext(context.Background(), msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.WarnContext(context.Background(), msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.ErrorContext(context.Background(), msg, args...) }

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
