package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/oncoplus/pkg/contextkeys"
	"github.com/platinummonkey/oncoplus/pkg/observability"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log appends an entry
	Log(ctx context.Context, entry *Entry) error

	// Close flushes and releases the sink
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NewNoOpLogger()
}

type noOpLogger struct{}

// NewNoOpLogger returns a logger that discards entries
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(ctx context.Context, entry *Entry) error { return nil }
func (noOpLogger) Close() error                                { return nil }

// Recorder is the logging port handed to components. Every call produces a
// structured log line and an audit entry with the same category; audit write
// failures are logged and swallowed.
type Recorder struct {
	logger *observability.Logger
	sink   Logger
	origin string
	now    func() time.Time
}

// NewRecorder creates a recorder. A nil sink discards audit entries.
func NewRecorder(logger *observability.Logger, sink Logger, origin string) *Recorder {
	if sink == nil {
		sink = NewNoOpLogger()
	}
	return &Recorder{
		logger: logger,
		sink:   sink,
		origin: origin,
		now:    time.Now,
	}
}

// WithOrigin returns a recorder that stamps entries with a different origin
func (r *Recorder) WithOrigin(origin string) *Recorder {
	if r == nil {
		return nil
	}
	cp := *r
	cp.origin = origin
	return &cp
}

// Info records an informational entry
func (r *Recorder) Info(ctx context.Context, category Category, message string, fields map[string]any) {
	r.record(ctx, LevelInfo, category, message, nil, fields)
}

// Warn records a warning
func (r *Recorder) Warn(ctx context.Context, category Category, message string, fields map[string]any) {
	r.record(ctx, LevelWarning, category, message, nil, fields)
}

// Error records a failure. err may be nil when there is no underlying error.
func (r *Recorder) Error(ctx context.Context, category Category, message string, err error, fields map[string]any) {
	r.record(ctx, LevelError, category, message, err, fields)
}

func (r *Recorder) record(ctx context.Context, level Level, category Category, message string, err error, fields map[string]any) {
	if r == nil {
		return
	}

	entryCtx := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entryCtx[k] = v
	}
	if err != nil {
		entryCtx["error"] = err.Error()
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		entryCtx["request_id"] = requestID
	}

	log := observability.FromContext(ctx)
	if r.logger != nil {
		log = r.logger.WithContext(ctx)
	}
	log = log.WithField("category", string(category)).WithFields(fields).WithError(err)

	switch level {
	case LevelError:
		log.Error(message)
	case LevelWarning:
		log.Warn(message)
	case LevelDebug:
		log.Debug(message)
	default:
		log.Info(message)
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Timestamp: r.now().UTC(),
		Level:     level,
		Category:  category,
		Message:   message,
		Context:   entryCtx,
		Origin:    r.origin,
		Actor:     actorFromContext(ctx),
	}
	if werr := r.sink.Log(ctx, entry); werr != nil {
		log.WithField("audit_error", werr.Error()).Warn("Failed to write audit entry")
	}
}

func actorFromContext(ctx context.Context) string {
	if actor := contextkeys.GetActor(ctx); actor != "" {
		return actor
	}
	return "system"
}
