package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/oncoplus/pkg/observability"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *observability.Metrics) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client := NewClient(Config{BaseURL: server.URL + "/", AccessToken: "TEST-token", Timeout: 2 * time.Second}, metrics)
	return client, metrics
}

func TestCreatePreapproval(t *testing.T) {
	var keys []string
	client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/preapproval", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		keys = append(keys, r.Header.Get("X-Idempotency-Key"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(body, &raw))
		recurring := raw["auto_recurring"].(map[string]any)
		assert.Equal(t, float64(30.5), recurring["transaction_amount"])
		assert.Equal(t, "PEN", recurring["currency_id"])
		assert.Equal(t, "months", recurring["frequency_type"])
		assert.Equal(t, "enrollee-1", raw["external_reference"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"2c938084","init_point":"https://mp.example/checkout","status":"pending","external_reference":"enrollee-1"}`))
	})

	req := &PreapprovalRequest{
		Reason:            "test",
		ExternalReference: "enrollee-1",
		PayerEmail:        "ana@example.com",
		AutoRecurring: AutoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: Amount(decimal.RequireFromString("30.499")),
			CurrencyID:        "PEN",
		},
		Status: "pending",
	}

	for i := 0; i < 2; i++ {
		out, err := client.CreatePreapproval(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "2c938084", out.ID)
		assert.Equal(t, "https://mp.example/checkout", out.InitPoint)
		assert.Equal(t, "pending", out.Status)
	}

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.ProcessorRequestDuration, "oncoplus_processor_request_duration_seconds"))
}

func TestGetPayment(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/123456", r.URL.Path)
		w.Write([]byte(`{"id":123456,"status":"approved","external_reference":"enrollee-1","transaction_amount":30.5,"currency_id":"PEN"}`))
	})

	p, err := client.GetPayment(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, ID("123456"), p.ID)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "enrollee-1", p.ExternalReference)
	assert.True(t, p.TransactionAmount.Equal(decimal.RequireFromString("30.5")))
}

func TestGetPreapproval(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/preapproval/sub-1", r.URL.Path)
		w.Write([]byte(`{"id":"sub-1","status":"cancelled","external_reference":"enrollee-1"}`))
	})

	p, err := client.GetPreapproval(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", p.Status)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusBadRequest, `{"message":"payer_email is invalid","error":"bad_request"}`, "payer_email is invalid"},
		{"cause field", http.StatusBadRequest, `{"cause":[{"code":"2001","description":"invalid amount"}]}`, `[{"code":"2001","description":"invalid amount"}]`},
		{"raw body", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"empty body", http.StatusUnauthorized, ``, "Unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.GetPreapproval(context.Background(), "x")
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestNonResourceSuccessCodes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"accepted", http.StatusAccepted, `{"message":"queued"}`, "queued"},
		{"no content", http.StatusNoContent, ``, "No Content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			p, err := client.CreatePreapproval(context.Background(), &PreapprovalRequest{ExternalReference: "e-1", AutoRecurring: AutoRecurring{TransactionAmount: "30.00"}})
			assert.Nil(t, p)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, err := client.GetPayment(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode get_payment response")
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(Config{}, nil)
	assert.False(t, client.Configured())

	_, err := client.GetPayment(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(Config{BaseURL: server.URL, AccessToken: "t"}, nil)
	_, err := client.GetPayment(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute get_payment request")
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":987654321012,"b":"abc","c":null}`), &v))
	assert.Equal(t, ID("987654321012"), v.A)
	assert.Equal(t, ID("abc"), v.B)
	assert.Equal(t, ID(""), v.C)
}
