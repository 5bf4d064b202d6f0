// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// observability, audit and HTTP layers agree on them.
//
//	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"

	// ActorKey contains the identity acting on the request: "payer" for intake,
	// "processor" for webhooks, "worker" for scheduled jobs
	// Set by: route wiring in pkg/api and cmd/oncoplus-worker
	// Used by: audit entries (actor column)
	ActorKey Key = "actor"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Used by: components that record audit entries without a Recorder
	AuditLoggerKey Key = "audit_logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithActor adds the acting identity to the context
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetActor retrieves the acting identity from context
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}
