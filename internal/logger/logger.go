package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logging levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Environments: development logs human readable text, production logs json
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

// Create logger that fits the environment
func New(env string, level string) (Logger, error) {
	switch env {
	case EnvDevelopment:
		return NewTextLogger(level)
	case EnvProduction:
		return NewJSONLogger(level)
	default:
		return nil, fmt.Errorf("unknown environment %q, expected one of: %s, %s", env, EnvDevelopment, EnvProduction)
	}
}

// Text logger writes to stderr
func NewTextLogger(level string) (Logger, error) {
	return newLogger(os.Stderr, level, func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewTextHandler(w, opts)
	})
}

// JSON logger writes to stderr
func NewJSONLogger(level string) (Logger, error) {
	return newLogger(os.Stderr, level, func(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
		return slog.NewJSONHandler(w, opts)
	})
}

// Logger that discards everything. Handy as default and in tests
func NewNoOpLogger() Logger {
	return &slogLogger{logger: slog.New(slog.DiscardHandler)}
}

func newLogger(w io.Writer, level string, handler func(io.Writer, *slog.HandlerOptions) slog.Handler) (Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   true,
		ReplaceAttr: replace,
	}

	return &slogLogger{logger: slog.New(handler(w, opts))}, nil
}
