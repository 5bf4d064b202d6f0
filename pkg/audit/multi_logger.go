package audit

import (
	"context"
	"errors"
)

// MultiLogger fans entries out to several sinks. Every sink is attempted even
// when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes the entry to every sink and returns the first error
func (m *MultiLogger) Log(ctx context.Context, entry *Entry) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all sinks
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
