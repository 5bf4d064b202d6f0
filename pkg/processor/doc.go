// Package processor is a thin client for the Mercado Pago subscription API.
//
// It covers the three endpoints the service consumes: creating a
// preapproval (recurring subscription), and fetching preapprovals and
// payments during webhook reconciliation. Requests are authenticated with a
// bearer token, traced through otelhttp and timed into the processor metrics.
// Non-2xx answers surface as *APIError.
package processor
