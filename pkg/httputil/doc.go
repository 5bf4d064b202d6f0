// Package httputil provides HTTP helpers shared by the API handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "documentNumber is required")
//	httputil.WriteText(w, http.StatusOK, "OK")
//
// # Request Parsing
//
// Intake payloads arrive either as JSON objects or as url-encoded forms;
// DecodeFormValues turns both into the flat map the intake decoder expects.
//
//	values, err := httputil.DecodeFormValues(r)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
