// Package logger configures log/slog for the wallet core and carries the
// request id through context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Options selects the handler. Zero values mean JSON at INFO on stdout.
type Options struct {
	Format string
	Level  string
	Output io.Writer
}

// OptionsFromEnv reads LOG_FORMAT and LOG_LEVEL
func OptionsFromEnv() Options {
	return Options{
		Format: os.Getenv("LOG_FORMAT"),
		Level:  os.Getenv("LOG_LEVEL"),
	}
}

// New builds a logger from opts
func New(opts Options) (*slog.Logger, error) {
	format := opts.Format
	if format == "" {
		format = "json"
	}
	levelStr := opts.Level
	if levelStr == "" {
		levelStr = "INFO"
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid LOG_LEVEL: %s (must be DEBUG, INFO, WARN, or ERROR)", levelStr)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", format)
	}

	return slog.New(handler).With("service", "wallet-core"), nil
}

// Init installs the logger described by the environment as the slog default
func Init() error {
	l, err := New(OptionsFromEnv())
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the default logger enriched with the request ID, if any.
func FromContext(ctx context.Context) *slog.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return slog.Default().With("request_id", requestID)
	}
	return slog.Default()
}
