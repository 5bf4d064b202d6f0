// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the enrollment service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("enrollee_id", id).Info("Enrollee recorded")
//
// Request-scoped logging:
//
//	observability.FromContext(ctx).WithError(err).Warn("Processor lookup failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordEnrollment("registered", len(dependents))
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp)
package observability
