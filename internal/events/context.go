package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	operationIDKey
	scanRootKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithOperationID tags the context and its logger with an operation ID.
func WithOperationID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("operation_id", id)
	ctx = context.WithValue(ctx, operationIDKey, id)
	return WithLogger(ctx, logger)
}

// WithScanRoot tags the context and its logger with the active scan root.
func WithScanRoot(ctx context.Context, root string) context.Context {
	logger := FromContext(ctx).WithField("scan_root", root)
	ctx = context.WithValue(ctx, scanRootKey, root)
	return WithLogger(ctx, logger)
}

// GetOperationID retrieves the operation ID from context.
func GetOperationID(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

// GetScanRoot retrieves the scan root from context.
func GetScanRoot(ctx context.Context) string {
	if root, ok := ctx.Value(scanRootKey).(string); ok {
		return root
	}
	return ""
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stderr,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
