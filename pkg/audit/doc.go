// Package audit records the operational trail of the enrollment flow.
//
// # Overview
//
// Every component receives a Recorder. A call such as
//
//	recorder.Warn(ctx, audit.CategoryWebhook, "No transaction for external reference", map[string]any{
//		"external_reference": ref,
//	})
//
// emits a structured log line and appends an Entry to the configured sinks
// (DBLogger for the audit_logs table, FileLogger for JSON lines, or both via
// MultiLogger).
//
// # Categories
//
// Categories are a stable taxonomy used by alerting: enrollment, validation,
// pricing, processor, webhook, notification, export, system.
package audit
