package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/oncoplus/pkg/observability"
)

// DefaultBaseURL is the Mercado Pago API root
const DefaultBaseURL = "https://api.mercadopago.com"

// ErrNotConfigured is returned when no access token is available
var ErrNotConfigured = errors.New("payment processor credentials are not configured")

// Config holds processor connection settings
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client talks to the Mercado Pago preapproval and payments APIs
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *observability.Metrics
	newKey     func() string
}

// NewClient creates a processor client. metrics may be nil.
func NewClient(cfg Config, metrics *observability.Metrics) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		token:   cfg.AccessToken,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: metrics,
		newKey:  uuid.NewString,
	}
}

// Configured reports whether the client has credentials
func (c *Client) Configured() bool {
	return c.token != ""
}

// APIError is a non-2xx answer from the processor
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processor returned %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Cause   json.RawMessage `json:"cause"`
}

// newAPIError extracts the most useful message from an error body: the
// processor message, then its cause, then the raw body
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			apiErr.Message = parsed.Message
		case len(parsed.Cause) > 0 && string(parsed.Cause) != "null" && string(parsed.Cause) != "[]":
			apiErr.Message = string(parsed.Cause)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// do issues a request and decodes a 200 or 201 JSON answer into out. Other
// 2xx codes carry no resource body and are reported as APIError.
func (c *Client) do(ctx context.Context, endpoint, method, path string, payload any, headers map[string]string, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveProcessorRequest(endpoint, 0, time.Since(start))
		return fmt.Errorf("failed to execute %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveProcessorRequest(endpoint, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return newAPIError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// CreatePreapproval creates a recurring-payment subscription. Every call
// carries a fresh idempotency key.
func (c *Client) CreatePreapproval(ctx context.Context, req *PreapprovalRequest) (*Preapproval, error) {
	var out Preapproval
	headers := map[string]string{"X-Idempotency-Key": c.newKey()}
	if err := c.do(ctx, "create_preapproval", http.MethodPost, "/preapproval", req, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPreapproval fetches a subscription by id
func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	var out Preapproval
	if err := c.do(ctx, "get_preapproval", http.MethodGet, "/preapproval/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPayment fetches a payment by id
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var out Payment
	if err := c.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
