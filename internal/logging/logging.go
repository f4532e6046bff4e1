// Package logging provides a small abstraction over slog so components can
// depend on a minimal Logger interface while callers plug in any structured
// logger or disable logging entirely.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the minimal structured logging interface used across the module.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config controls logger construction.
type Config struct {
	// Level is the minimum level emitted.
	Level slog.Level
	// Format is "json" or "text".
	Format string
	// Output is the destination writer; defaults to stderr.
	Output io.Writer
	// Component is attached to every entry when non-empty.
	Component string
}

// New builds a Logger backed by slog with the given configuration.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}
	return &slogAdapter{logger}
}

// Default returns a JSON logger at info level writing to stderr.
func Default(component string) Logger {
	return New(Config{Level: slog.LevelInfo, Component: component})
}

type slogAdapter struct {
	inner *slog.Logger
}

func (s *slogAdapter) Debug(msg string, args ...any) { s.inner.Debug(msg, args...) }
func (s *slogAdapter) Info(msg string, args ...any)  { s.inner.Info(msg, args...) }
func (s *slogAdapter) Warn(msg string, args ...any)  { s.inner.Warn(msg, args...) }
func (s *slogAdapter) Error(msg string, args ...any) { s.inner.Error(msg, args...) }

// NoOp discards all log messages. Useful in tests.
type NoOp struct{}

// Debug discards the message.
func (NoOp) Debug(string, ...any) {}

// Info discards the message.
func (NoOp) Info(string, ...any) {}

// Warn discards the message.
func (NoOp) Warn(string, ...any) {}

// Error discards the message.
func (NoOp) Error(string, ...any) {}
