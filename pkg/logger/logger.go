// Package logger defines the structured logging interface used across the
// service. The production implementation wraps zap; see
// internal/infrastructure/monitoring.
package logger

import "context"

// Fields is a set of key-value pairs attached to a log entry.
type Fields map[string]interface{}

// Logger is the structured logging interface.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)

	// WithFields returns a logger that attaches fields to every entry.
	WithFields(fields Fields) Logger

	// WithComponent returns a logger scoped to a component name.
	WithComponent(component string) Logger
}
