package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// EventType is the type of an outbound event
type EventType string

const (
	EventEnrollmentActivated  EventType = "enrollment.activated"
	EventEnrollmentRegistered EventType = "enrollment.registered"
)

// Event is the JSON body posted to the webhook endpoint
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// WebhookConfig holds outbound webhook settings
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Retry   RetryConfig
}

// DeliveryResult describes a finished delivery
type DeliveryResult struct {
	EventID    string        `json:"event_id"`
	Attempts   int           `json:"attempts"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// WebhookSender posts signed events to one endpoint
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
	retry  *RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewWebhookSender creates a webhook sender
func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry: NewRetryPolicy(cfg.Retry),
		sleep: sleepContext,
		now:   time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Channel names the delivery channel
func (s *WebhookSender) Channel() string { return "webhook" }

// SendWelcome posts an enrollment.activated event
func (s *WebhookSender) SendWelcome(ctx context.Context, n WelcomeNotice) error {
	_, err := s.Deliver(ctx, EventEnrollmentActivated, n)
	return err
}

// SendRegistration posts an enrollment.registered event
func (s *WebhookSender) SendRegistration(ctx context.Context, n RegistrationNotice) error {
	_, err := s.Deliver(ctx, EventEnrollmentRegistered, n)
	return err
}

// Deliver posts one event, retrying transport errors and 5xx/429 answers.
// Every attempt carries the same event id.
func (s *WebhookSender) Deliver(ctx context.Context, eventType EventType, data any) (DeliveryResult, error) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: s.now().UTC(),
		Data:      data,
	}
	result := DeliveryResult{EventID: event.ID}

	payload, err := json.Marshal(event)
	if err != nil {
		return result, fmt.Errorf("failed to marshal event: %w", err)
	}

	start := time.Now()
	for {
		result.Attempts++
		status, err := s.post(ctx, event, payload)
		result.StatusCode = status
		if err == nil {
			result.Duration = time.Since(start)
			return result, nil
		}

		if !s.retry.ShouldRetry(result.Attempts, err) {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("webhook delivery failed after %d attempts: %w", result.Attempts, err)
		}
		if serr := s.sleep(ctx, s.retry.NextRetryDelay(result.Attempts)); serr != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("webhook delivery interrupted: %w", serr)
		}
	}
}

func (s *WebhookSender) post(ctx context.Context, event Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return 0, &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Oncoplus-Event", string(event.Type))
	req.Header.Set("X-Oncoplus-Event-ID", event.ID)
	req.Header.Set("X-Oncoplus-Delivery", s.now().UTC().Format(time.RFC3339))
	if s.secret != "" {
		req.Header.Set("X-Oncoplus-Signature", generateSignature(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}

	err = fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, err
	}
	return resp.StatusCode, &permanentError{err}
}

// VerifySignature verifies the webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
