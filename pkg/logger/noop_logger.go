package logger

import "context"

// noopLogger discards everything. Used in tests and as a safe default when a
// component is constructed without a logger.
type noopLogger struct{}

// NewNoop returns a Logger that discards all output.
func NewNoop() Logger {
	return &noopLogger{}
}

func (n *noopLogger) Debug(ctx context.Context, message string, fields ...Field)            {}
func (n *noopLogger) Info(ctx context.Context, message string, fields ...Field)             {}
func (n *noopLogger) Warn(ctx context.Context, message string, fields ...Field)             {}
func (n *noopLogger) Error(ctx context.Context, message string, err error, fields ...Field) {}
func (n *noopLogger) Fatal(ctx context.Context, message string, err error, fields ...Field) {}
func (n *noopLogger) WithFields(fields ...Field) Logger                                     { return n }
func (n *noopLogger) WithComponent(component string) Logger                                 { return n }
