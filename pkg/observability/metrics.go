package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Enrollment metrics
	EnrollmentsTotal   *prometheus.CounterVec
	DependentsTotal    prometheus.Counter
	RateLookupsTotal   *prometheus.CounterVec
	DuplicateDocuments *prometheus.CounterVec

	// Processor metrics
	SubscriptionsTotal       *prometheus.CounterVec
	ProcessorRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal  *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	TransactionsUpdated *prometheus.CounterVec

	// Worker metrics
	JobRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oncoplus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		EnrollmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_enrollments_total",
				Help: "Intake submissions by outcome",
			},
			[]string{"outcome"},
		),
		DependentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oncoplus_dependents_total",
				Help: "Dependents recorded",
			},
		),
		RateLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_rate_lookups_total",
				Help: "Rate table lookups by resolution",
			},
			[]string{"match"},
		),
		DuplicateDocuments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_duplicate_documents_total",
				Help: "Submissions whose document was already enrolled, by policy",
			},
			[]string{"policy"},
		),
		SubscriptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_subscriptions_total",
				Help: "Subscription creation attempts by outcome",
			},
			[]string{"outcome"},
		),
		ProcessorRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oncoplus_processor_request_duration_seconds",
				Help:    "Payment processor request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_webhook_events_total",
				Help: "Inbound webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_notifications_total",
				Help: "Notifications dispatched by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		TransactionsUpdated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_transactions_updated_total",
				Help: "Transaction status updates by new status",
			},
			[]string{"status"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oncoplus_job_runs_total",
				Help: "Scheduled job runs by job and outcome",
			},
			[]string{"job", "outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EnrollmentsTotal,
		m.DependentsTotal,
		m.RateLookupsTotal,
		m.DuplicateDocuments,
		m.SubscriptionsTotal,
		m.ProcessorRequestDuration,
		m.WebhookEventsTotal,
		m.NotificationsTotal,
		m.TransactionsUpdated,
		m.JobRunsTotal,
	)

	return m
}

// RecordEnrollment counts an intake outcome
func (m *Metrics) RecordEnrollment(outcome string, dependents int) {
	if m == nil {
		return
	}
	m.EnrollmentsTotal.WithLabelValues(outcome).Inc()
	if dependents > 0 {
		m.DependentsTotal.Add(float64(dependents))
	}
}

// RecordRateLookup counts how a rate lookup was resolved
func (m *Metrics) RecordRateLookup(match string) {
	if m == nil {
		return
	}
	m.RateLookupsTotal.WithLabelValues(match).Inc()
}

// RecordDuplicate counts a duplicate document under policy
func (m *Metrics) RecordDuplicate(policy string) {
	if m == nil {
		return
	}
	m.DuplicateDocuments.WithLabelValues(policy).Inc()
}

// RecordSubscription counts a subscription attempt
func (m *Metrics) RecordSubscription(outcome string) {
	if m == nil {
		return
	}
	m.SubscriptionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProcessorRequest records the latency of an outbound processor call
func (m *Metrics) ObserveProcessorRequest(endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessorRequestDuration.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordWebhookEvent counts an inbound webhook event
func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordNotification counts a notification attempt
func (m *Metrics) RecordNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordTransactionUpdate counts a transaction status change
func (m *Metrics) RecordTransactionUpdate(status string) {
	if m == nil {
		return
	}
	m.TransactionsUpdated.WithLabelValues(status).Inc()
}

// RecordJobRun counts a scheduled job run
func (m *Metrics) RecordJobRun(job, outcome string) {
	if m == nil {
		return
	}
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Paths are labelled with the route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
