package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/intake"
	"github.com/platinummonkey/oncoplus/pkg/middleware"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/rates"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

type fakeIntake struct {
	values   map[string]any
	response intake.Response

	lookupType   enrollment.DocumentType
	lookupNumber string
	match        storage.DocumentMatch
	lookupErr    error
}

func (f *fakeIntake) Submit(ctx context.Context, values map[string]any) intake.Response {
	f.values = values
	return f.response
}

func (f *fakeIntake) Lookup(ctx context.Context, docType enrollment.DocumentType, number string) (storage.DocumentMatch, error) {
	f.lookupType = docType
	f.lookupNumber = number
	return f.match, f.lookupErr
}

type fakeEvents struct {
	events []billing.Event
	err    error
}

func (f *fakeEvents) HandleEvent(ctx context.Context, ev billing.Event) (billing.Outcome, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return billing.OutcomeError, f.err
	}
	return billing.OutcomeUpdated, nil
}

func testRates() *rates.Table {
	return rates.NewTable(rates.StaticSource{
		rates.NewRange(0, rates.Bound(17), "10.00", "20.00"),
		rates.NewRange(18, rates.Bound(64), "15.00", "30.00"),
		rates.NewRange(65, nil, "25.00", "40.00"),
	}, nil, nil)
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	}
	return NewServer(opts)
}

func TestSubmit_JSON(t *testing.T) {
	svc := &fakeIntake{response: intake.Response{
		Success:    true,
		RegistroID: "enr-1",
		MontoTotal: json.Number("50.00"),
		InitPoint:  "https://mp.example/checkout",
	}}
	server := newTestServer(t, Options{Intake: svc})

	body := `{"nombre":"Ana","numeroDependientes":"0","pagoRecurrente":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "Ana", svc.values["nombre"])
	assert.Equal(t, true, svc.values["pagoRecurrente"])

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "enr-1", resp["registroId"])
	assert.Equal(t, float64(50), resp["montoTotal"])
	assert.Equal(t, "https://mp.example/checkout", resp["init_point"])
}

func TestSubmit_FormEncoded(t *testing.T) {
	svc := &fakeIntake{response: intake.Response{Success: false, Error: "Datos de formulario inválidos: email"}}
	server := newTestServer(t, Options{Intake: svc})

	form := url.Values{"nombre": {"Ana"}, "email": {"bad"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bad", svc.values["email"])

	var resp intake.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "email")
}

func TestSubmit_UndecodableBody(t *testing.T) {
	svc := &fakeIntake{}
	server := newTestServer(t, Options{Intake: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", strings.NewReader(`{"nombre":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.values)

	var resp intake.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestSubmit_CORSPreflight(t *testing.T) {
	svc := &fakeIntake{}
	server := newTestServer(t, Options{Intake: svc, AllowedOrigins: []string{"https://afiliacion.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/enrollments", nil)
	req.Header.Set("Origin", "https://afiliacion.example")
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://afiliacion.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Nil(t, svc.values)
}

func TestSubmit_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Hour,
	})
	svc := &fakeIntake{response: intake.Response{Success: true}}
	server := newTestServer(t, Options{Intake: svc, Limiter: limiter})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:5555"
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		match      storage.DocumentMatch
		err        error
		wantStatus int
		wantType   enrollment.DocumentType
	}{
		{"found", "documentType=dni&documentNumber=12345678", storage.DocumentMatch{Exists: true, EnrolleeID: "enr-1", Name: "Ana Pérez", Email: "ana@example.com"}, nil, http.StatusOK, enrollment.DocumentTypeDNI},
		{"default type", "documentNumber=12345678", storage.DocumentMatch{}, nil, http.StatusOK, enrollment.DocumentTypeDNI},
		{"foreigner card", "documentType=CE&documentNumber=X123", storage.DocumentMatch{}, nil, http.StatusOK, enrollment.DocumentTypeCE},
		{"missing number", "documentType=DNI", storage.DocumentMatch{}, nil, http.StatusBadRequest, ""},
		{"unknown type", "documentType=PAS&documentNumber=1", storage.DocumentMatch{}, nil, http.StatusBadRequest, ""},
		{"store failure", "documentNumber=1", storage.DocumentMatch{}, errors.New("db down"), http.StatusInternalServerError, enrollment.DocumentTypeDNI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeIntake{match: tt.match, lookupErr: tt.err}
			server := newTestServer(t, Options{Intake: svc})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/lookup?"+tt.query, nil)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantType, svc.lookupType)
			if tt.wantStatus == http.StatusOK {
				body := w.Body.String()
				assert.JSONEq(t, fmt.Sprintf(`{"exists":%t}`, tt.match.Exists), body)
				assert.NotContains(t, body, "enr-1")
				assert.NotContains(t, body, "ana@example.com")
			}
		})
	}
}

func TestQuote(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }

	tests := []struct {
		name          string
		query         string
		wantStatus    int
		wantAge       int
		wantPrimary   string
		wantSecondary string
	}{
		{"by age", "age=45", http.StatusOK, 45, "15.00", "30.00"},
		{"by birth date", "birthDate=2012-06-16", http.StatusOK, 11, "10.00", "20.00"},
		{"birth date wins", "birthDate=1950-01-01&age=5", http.StatusOK, 74, "25.00", "40.00"},
		{"missing", "", http.StatusBadRequest, 0, "", ""},
		{"bad age", "age=abc", http.StatusBadRequest, 0, "", ""},
		{"negative age", "age=-3", http.StatusBadRequest, 0, "", ""},
		{"bad date", "birthDate=yesterday", http.StatusBadRequest, 0, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewRateHandlers(testRates(), now)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/quote?"+tt.query, nil)
			w := httptest.NewRecorder()
			handlers.Quote(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var got QuoteResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
			assert.Equal(t, tt.wantAge, got.Age)
			assert.Equal(t, tt.wantPrimary, got.Primary.String())
			assert.Equal(t, tt.wantSecondary, got.Secondary.String())
			assert.True(t, got.Available)
		})
	}
}

func TestQuote_Unavailable(t *testing.T) {
	server := newTestServer(t, Options{
		Intake: &fakeIntake{},
		Rates:  rates.NewTable(rates.StaticSource{}, nil, nil),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rates/quote?age=30", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got QuoteResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.False(t, got.Available)
	assert.Equal(t, "0.00", got.Primary.String())
}

func TestMercadoPagoWebhook(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		body     string
		err      error
		wantBody string
		wantType billing.EventType
		wantID   string
	}{
		{"payment body", "", `{"type":"payment","action":"payment.created","data":{"id":123456}}`, nil, "OK", billing.EventPayment, "123456"},
		{"query form", "type=subscription_preapproval&data.id=sub-1", "", nil, "OK", billing.EventSubscriptionPreapproval, "sub-1"},
		{"legacy topic", "topic=payment&id=99", "", nil, "OK", billing.EventPayment, "99"},
		{"empty", "", "", nil, "NO_DATA", "", ""},
		{"garbage", "", `not json`, nil, "NO_DATA", "", ""},
		{"handler failure", "", `{"type":"payment","data":{"id":"1"}}`, errors.New("processor down"), "ERROR", billing.EventPayment, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{err: tt.err}
			server := newTestServer(t, Options{Intake: &fakeIntake{}, Reconciler: events})

			target := "/webhooks/mercadopago"
			if tt.query != "" {
				target += "?" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, w.Body.String())

			if tt.wantType == "" {
				assert.Empty(t, events.events)
				return
			}
			require.Len(t, events.events, 1)
			assert.Equal(t, tt.wantType, events.events[0].Type)
			assert.Equal(t, tt.wantID, events.events[0].Data.ID.String())
		})
	}
}

func TestOptionalGroupsNotMounted(t *testing.T) {
	server := newTestServer(t, Options{Intake: &fakeIntake{}})

	for _, target := range []string{"/webhooks/mercadopago", "/api/v1/rates/quote?age=1", "/metrics", "/health"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	server := newTestServer(t, Options{
		Intake:   &fakeIntake{response: intake.Response{Success: true}},
		Health:   observability.NewHealthChecker(db, nil, "test"),
		Registry: registry,
		Metrics:  metrics,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/enrollments", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	server.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var status observability.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)

	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `path="/api/v1/enrollments"`)
}
