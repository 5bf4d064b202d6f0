// Package middleware rate limits the public intake routes.
//
// Two limiters share the Limiter interface: an in-process token bucket and a
// Redis fixed-window counter that is shared by every replica. The HTTP
// middleware keys requests by client IP and fails open when Redis errors.
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	router.Handle("/api/v1/enrollments", middleware.RateLimit(limiter, logger)(handler))
package middleware
