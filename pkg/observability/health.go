package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds a full dependency sweep
const readinessTimeout = 5 * time.Second

// HealthStatus is the body of the readiness endpoints
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// probe is a named dependency check. A failing non-critical probe only
// degrades the service: enrollments still go through without it.
type probe struct {
	name     string
	critical bool
	check    func(ctx context.Context) DependencyStatus
}

// HealthChecker runs the registered dependency probes
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	probes []probe
}

// NewHealthChecker creates a checker with a critical probe for the record
// store and a non-critical one for the Redis lock backend. Either may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version}
	if db != nil {
		h.probes = append(h.probes, probe{name: "database", critical: true, check: databaseProbe(db)})
	}
	if redisClient != nil {
		h.probes = append(h.probes, probe{name: "redis", check: redisProbe(redisClient)})
	}
	return h
}

// AddCheck registers an extra probe. fn returning an error marks the
// dependency unhealthy.
func (h *HealthChecker) AddCheck(name string, critical bool, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{
		name:     name,
		critical: critical,
		check: func(ctx context.Context) DependencyStatus {
			start := time.Now()
			err := fn(ctx)
			return dependencyResult(start, err, "")
		},
	})
}

// Check runs every probe and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(probes)),
	}

	for _, p := range probes {
		result := p.check(ctx)
		status.Dependencies[p.name] = result

		switch {
		case result.Status == StatusHealthy:
		case p.critical && result.Status == StatusUnhealthy:
			status.Status = StatusUnhealthy
		case status.Status != StatusUnhealthy:
			status.Status = StatusDegraded
		}
	}

	return status
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 only when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}

func databaseProbe(db *sql.DB) func(ctx context.Context) DependencyStatus {
	return func(ctx context.Context) DependencyStatus {
		start := time.Now()
		if err := db.PingContext(ctx); err != nil {
			return dependencyResult(start, err, "")
		}

		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return dependencyResult(start, err, "query failed: ")
		}

		result := dependencyResult(start, nil, "")
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			result.Status = StatusDegraded
			result.Message = "connection pool exhausted"
		}
		return result
	}
}

func redisProbe(client *redis.Client) func(ctx context.Context) DependencyStatus {
	return func(ctx context.Context) DependencyStatus {
		start := time.Now()
		return dependencyResult(start, client.Ping(ctx).Err(), "")
	}
}

func dependencyResult(start time.Time, err error, prefix string) DependencyStatus {
	result := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = prefix + err.Error()
	}
	return result
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
