package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/processor"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

var tracer = otel.Tracer("oncoplus/billing")

const (
	defaultCurrency   = "PEN"
	defaultStartDelay = 5 * time.Minute
	callbackSource    = "mp_callback_preapproval_v1"
)

// User-facing failure messages
const (
	msgNotConfigured      = "Error crítico: Credenciales de Mercado Pago no configuradas en el sistema."
	msgNoCallback         = "Error de configuración interna del servidor (URL de retorno no configurada)."
	msgUnexpectedResponse = "Respuesta inesperada de Mercado Pago tras crear suscripción."
	msgProcessorPrefix    = "Error al procesar con Mercado Pago: "
	msgInternal           = "Error interno del servidor al iniciar el pago. Intente nuevamente más tarde."
)

// GatewayConfig holds subscription settings
type GatewayConfig struct {
	// CallbackURL is where the processor sends the payer back after checkout
	CallbackURL string
	Currency    string
	// StartDelay pushes the first charge into the future so the processor
	// accepts the start date
	StartDelay time.Duration
	Reason     string
}

// Gateway opens recurring subscriptions and records them locally
type Gateway struct {
	processor Processor
	store     storage.TransactionStore
	cfg       GatewayConfig
	recorder  *audit.Recorder
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewGateway creates a subscription gateway. recorder and metrics may be nil.
func NewGateway(p Processor, store storage.TransactionStore, cfg GatewayConfig, recorder *audit.Recorder, metrics *observability.Metrics) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = defaultStartDelay
	}
	if cfg.Reason == "" {
		cfg.Reason = "Suscripción ASISPLUS ONCOPLUS"
	}
	return &Gateway{
		processor: p,
		store:     store,
		cfg:       cfg,
		recorder:  recorder,
		metrics:   metrics,
		now:       time.Now,
	}
}

// BackURL builds the return URL for an enrollee
func (g *Gateway) BackURL(enrolleeID string) (string, error) {
	u, err := url.Parse(g.cfg.CallbackURL)
	if err != nil {
		return "", fmt.Errorf("invalid callback URL: %w", err)
	}
	q := u.Query()
	q.Set("external_reference", enrolleeID)
	q.Set("source", callbackSource)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CreateSubscription opens a monthly preapproval for amount and records the
// pending transaction. The request is sent once; failures come back in the
// result.
func (g *Gateway) CreateSubscription(ctx context.Context, sub *enrollment.Submission, enrolleeID string, amount decimal.Decimal) SubscriptionResult {
	ctx, span := tracer.Start(ctx, "CreateSubscription",
		trace.WithAttributes(
			attribute.String("enrollee_id", enrolleeID),
			attribute.String("amount", amount.StringFixed(2)),
		),
	)
	defer span.End()

	fields := map[string]any{"enrollee_id": enrolleeID, "amount": amount.StringFixed(2)}

	if g.processor == nil || !g.processor.Configured() {
		g.recorder.Error(ctx, audit.CategoryProcessor, "Processor access token not configured", processor.ErrNotConfigured, fields)
		g.metrics.RecordSubscription("not_configured")
		span.SetStatus(codes.Error, "not configured")
		return SubscriptionResult{Error: msgNotConfigured}
	}
	if g.cfg.CallbackURL == "" {
		g.recorder.Error(ctx, audit.CategoryProcessor, "Callback URL not configured", nil, fields)
		g.metrics.RecordSubscription("not_configured")
		span.SetStatus(codes.Error, "no callback url")
		return SubscriptionResult{Error: msgNoCallback}
	}

	backURL, err := g.BackURL(enrolleeID)
	if err != nil {
		g.recorder.Error(ctx, audit.CategoryProcessor, "Callback URL invalid", err, fields)
		g.metrics.RecordSubscription("not_configured")
		span.RecordError(err)
		return SubscriptionResult{Error: msgNoCallback}
	}

	now := g.now().UTC()
	req := &processor.PreapprovalRequest{
		Reason:            fmt.Sprintf("%s - %s", g.cfg.Reason, enrolleeID),
		ExternalReference: enrolleeID,
		PayerEmail:        sub.Primary.Email,
		AutoRecurring: processor.AutoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: processor.Amount(amount),
			CurrencyID:        g.cfg.Currency,
			StartDate:         now.Add(g.cfg.StartDelay).Format(time.RFC3339),
		},
		BackURL: backURL,
		Status:  "pending",
	}

	resp, err := g.processor.CreatePreapproval(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create preapproval failed")

		var apiErr *processor.APIError
		if errors.As(err, &apiErr) {
			fields["status_code"] = apiErr.StatusCode
			fields["response_body"] = apiErr.Body
			g.recorder.Error(ctx, audit.CategoryProcessor, "Processor rejected subscription", err, fields)
			g.metrics.RecordSubscription("rejected")
			return SubscriptionResult{Error: msgProcessorPrefix + apiErr.Message}
		}

		g.recorder.Error(ctx, audit.CategoryProcessor, "Subscription request failed", err, fields)
		g.metrics.RecordSubscription("error")
		return SubscriptionResult{Error: msgInternal}
	}

	if resp.InitPoint == "" || resp.ID == "" {
		g.recorder.Error(ctx, audit.CategoryProcessor, "Processor response missing init_point or id", nil, fields)
		g.metrics.RecordSubscription("invalid_response")
		span.SetStatus(codes.Error, "invalid response")
		return SubscriptionResult{Error: msgUnexpectedResponse}
	}

	status := enrollment.StatusPending
	if resp.Status != "" {
		if parsed, err := enrollment.ParseStatus(resp.Status); err == nil {
			status = parsed
		} else {
			fields["processor_status"] = resp.Status
			g.recorder.Warn(ctx, audit.CategoryProcessor, "Unrecognized subscription status, recorded as pending", fields)
		}
	}

	tx := &enrollment.Transaction{
		EnrolleeID:             enrolleeID,
		ExternalSubscriptionID: resp.ID,
		Amount:                 amount.Round(2),
		Currency:               g.cfg.Currency,
		Status:                 status,
		CreatedAt:              now,
		UpdatedAt:              now,
		NextChargeAt:           nextCharge(resp.NextPaymentDate, now, sub.Periodicity),
	}

	fields["subscription_id"] = resp.ID
	txID, err := g.store.CreateTransaction(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record transaction failed")
		g.recorder.Error(ctx, audit.CategoryProcessor, "Subscription created but transaction not recorded", err, fields)
		g.metrics.RecordSubscription("error")
		return SubscriptionResult{Error: msgInternal}
	}

	fields["transaction_id"] = txID
	fields["status"] = string(status)
	g.recorder.Info(ctx, audit.CategoryProcessor, "Subscription created", fields)
	g.metrics.RecordSubscription("created")

	return SubscriptionResult{
		Success:        true,
		InitPoint:      resp.InitPoint,
		SubscriptionID: resp.ID,
		TransactionID:  txID,
	}
}

// nextCharge prefers the processor's schedule and falls back to one period
// from now
func nextCharge(raw string, now time.Time, p enrollment.Periodicity) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC()
		}
	}
	return enrollment.NextChargeDate(now, p)
}
