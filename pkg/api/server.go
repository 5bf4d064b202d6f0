package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/httputil"
	"github.com/platinummonkey/oncoplus/pkg/middleware"
	"github.com/platinummonkey/oncoplus/pkg/observability"
)

// DefaultMaxBodyBytes bounds request bodies
const DefaultMaxBodyBytes = 1 << 20

// Options wires the server's collaborators. Only Intake is required; the
// other groups are mounted when their dependency is set.
type Options struct {
	Intake     IntakeService
	Rates      RateLookup
	Reconciler EventHandler

	Health   *observability.HealthChecker
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Limiter  middleware.Limiter

	Logger   *observability.Logger
	Recorder *audit.Recorder

	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
	}
	s.setupRoutes(opts)

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(s.router)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	// Runs after route matching so requests are labelled by template
	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(httputil.CORSMiddleware(opts.AllowedOrigins))

	if opts.Intake != nil {
		enrollments := api.PathPrefix("/enrollments").Subrouter()
		if opts.Limiter != nil {
			enrollments.Use(middleware.RateLimit(opts.Limiter, opts.Logger))
		}
		NewEnrollmentHandlers(opts.Intake).RegisterRoutes(enrollments)
	}

	if opts.Rates != nil {
		NewRateHandlers(opts.Rates, nil).RegisterRoutes(api)
	}

	if opts.Reconciler != nil {
		webhooks := s.router.PathPrefix("/webhooks").Subrouter()
		webhooks.Use(httputil.ActorMiddleware("processor"))
		NewWebhookHandlers(opts.Reconciler, opts.Recorder).RegisterRoutes(webhooks)
	}

	if opts.Health != nil {
		observability.RegisterHealthRoutes(s.router, opts.Health)
	}
	if opts.Registry != nil {
		observability.RegisterMetricsEndpoint(s.router, opts.Registry)
	}
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
