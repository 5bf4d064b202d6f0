package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/lock"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

// ReconcilerConfig holds webhook reconciliation settings
type ReconcilerConfig struct {
	DedupSize int
	DedupTTL  time.Duration
}

// DefaultReconcilerConfig returns the default dedup window
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		DedupSize: 4096,
		DedupTTL:  2 * time.Minute,
	}
}

// Reconciler applies processor notifications to local transactions
type Reconciler struct {
	processor Processor
	store     storage.TransactionStore
	locker    lock.Locker
	notifier  ActivationNotifier
	recorder  *audit.Recorder
	metrics   *observability.Metrics
	now       func() time.Time

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]
}

// NewReconciler creates a reconciler. locker defaults to an in-process lock;
// notifier, recorder and metrics may be nil.
func NewReconciler(p Processor, store storage.TransactionStore, locker lock.Locker, notifier ActivationNotifier, cfg ReconcilerConfig, recorder *audit.Recorder, metrics *observability.Metrics) *Reconciler {
	def := DefaultReconcilerConfig()
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = def.DedupSize
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Reconciler{
		processor: p,
		store:     store,
		locker:    locker,
		notifier:  notifier,
		recorder:  recorder,
		metrics:   metrics,
		now:       time.Now,
		seen:      expirable.NewLRU[string, struct{}](cfg.DedupSize, nil, cfg.DedupTTL),
	}
}

// markSeen records a delivery and reports whether it was new
func (r *Reconciler) markSeen(key string) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if r.seen.Contains(key) {
		return false
	}
	r.seen.Add(key, struct{}{})
	return true
}

// forget lets a failed delivery be retried by the processor
func (r *Reconciler) forget(key string) {
	r.seenMu.Lock()
	r.seen.Remove(key)
	r.seenMu.Unlock()
}

// HandleEvent processes one notification. The returned error is for logging;
// the processor is always acknowledged.
func (r *Reconciler) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.String("event_type", string(ev.Type)),
			attribute.String("resource_id", ev.Data.ID.String()),
		),
	)
	defer span.End()

	outcome, err := r.handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	r.metrics.RecordWebhookEvent(string(ev.Type), string(outcome))
	return outcome, err
}

func (r *Reconciler) handle(ctx context.Context, ev Event) (Outcome, error) {
	fields := map[string]any{"type": string(ev.Type), "action": ev.Action, "resource_id": ev.Data.ID.String()}

	switch ev.Type {
	case EventPayment, EventSubscriptionPreapproval:
	default:
		r.recorder.Info(ctx, audit.CategoryWebhook, "Unhandled notification type", fields)
		return OutcomeIgnored, nil
	}

	if ev.Data.ID == "" {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Notification without resource id", fields)
		return OutcomeIgnored, nil
	}

	if ev.Type == EventPayment {
		return r.handlePayment(ctx, ev)
	}
	return r.handlePreapproval(ctx, ev)
}

func (r *Reconciler) handlePayment(ctx context.Context, ev Event) (Outcome, error) {
	paymentID := ev.Data.ID.String()
	fields := map[string]any{"payment_id": paymentID}

	payment, err := r.processor.GetPayment(ctx, paymentID)
	if err != nil {
		r.recorder.Error(ctx, audit.CategoryWebhook, "Failed to fetch payment", err, fields)
		return OutcomeError, fmt.Errorf("failed to fetch payment %s: %w", paymentID, err)
	}

	ref := payment.ExternalReference
	fields["enrollee_id"] = ref
	fields["status"] = payment.Status
	fields["amount"] = payment.TransactionAmount.StringFixed(2)

	if ref == "" {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Payment without external reference", fields)
		return OutcomeMissingReference, nil
	}

	status, err := enrollment.ParseStatus(payment.Status)
	if err != nil {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Unrecognized payment status, transaction left unchanged", fields)
		return OutcomeUnknownStatus, nil
	}

	key := ev.Key(string(status))
	if !r.markSeen(key) {
		r.recorder.Info(ctx, audit.CategoryWebhook, "Duplicate notification dropped", fields)
		return OutcomeDuplicate, nil
	}

	unlock, err := r.locker.Acquire(ctx, "reconcile:"+ref)
	if err != nil {
		r.forget(key)
		r.recorder.Error(ctx, audit.CategoryWebhook, "Failed to lock reference", err, fields)
		return OutcomeError, fmt.Errorf("failed to lock %s: %w", ref, err)
	}

	previous, txID, err := r.applyPayment(ctx, ref, paymentID, status, payment.TransactionAmount.StringFixed(2), fields)

	if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Failed to release reference lock", map[string]any{"enrollee_id": ref, "error": uerr.Error()})
	}

	if errors.Is(err, storage.ErrNotFound) {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Reconciliation miss: no local transaction for reference", fields)
		return OutcomeMiss, nil
	}
	if err != nil {
		r.forget(key)
		r.recorder.Error(ctx, audit.CategoryWebhook, "Failed to update transaction", err, fields)
		return OutcomeError, err
	}

	fields["transaction_id"] = txID
	fields["previous_status"] = string(previous)
	r.recorder.Info(ctx, audit.CategoryWebhook, "Payment status updated", fields)
	r.metrics.RecordTransactionUpdate(string(status))

	switch status {
	case enrollment.StatusApproved:
		if previous == enrollment.StatusApproved {
			return OutcomeUpdated, nil
		}
		r.activate(ctx, ref)
		return OutcomeActivated, nil
	case enrollment.StatusRejected:
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Payment rejected", fields)
	case enrollment.StatusCancelled:
		r.recorder.Info(ctx, audit.CategoryWebhook, "Payment cancelled", fields)
	}
	return OutcomeUpdated, nil
}

// applyPayment runs the read-then-update under the caller's lock
func (r *Reconciler) applyPayment(ctx context.Context, ref, paymentID string, status enrollment.TransactionStatus, amount string, fields map[string]any) (enrollment.TransactionStatus, string, error) {
	tx, err := r.store.FindByExternalReference(ctx, ref)
	if err != nil {
		return "", "", err
	}

	if tx.Amount.StringFixed(2) != amount {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Payment amount differs from subscription amount", map[string]any{
			"enrollee_id":     ref,
			"payment_id":      paymentID,
			"expected_amount": tx.Amount.StringFixed(2),
			"amount":          amount,
		})
	}

	previous, err := r.store.UpdateTransactionPayment(ctx, tx.ID, paymentID, status, r.now().UTC())
	if err != nil {
		return "", tx.ID, fmt.Errorf("failed to update transaction %s: %w", tx.ID, err)
	}
	return previous, tx.ID, nil
}

func (r *Reconciler) activate(ctx context.Context, enrolleeID string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyActivation(ctx, enrolleeID); err != nil {
		r.recorder.Error(ctx, audit.CategoryNotification, "Activation notification failed", err, map[string]any{"enrollee_id": enrolleeID})
	}
}

func (r *Reconciler) handlePreapproval(ctx context.Context, ev Event) (Outcome, error) {
	subscriptionID := ev.Data.ID.String()
	fields := map[string]any{"subscription_id": subscriptionID}

	pre, err := r.processor.GetPreapproval(ctx, subscriptionID)
	if err != nil {
		r.recorder.Error(ctx, audit.CategoryWebhook, "Failed to fetch subscription", err, fields)
		return OutcomeError, fmt.Errorf("failed to fetch preapproval %s: %w", subscriptionID, err)
	}

	fields["enrollee_id"] = pre.ExternalReference
	fields["status"] = pre.Status

	if pre.ExternalReference == "" {
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Subscription without external reference", fields)
		return OutcomeMissingReference, nil
	}

	if !r.markSeen(ev.Key(pre.Status)) {
		r.recorder.Info(ctx, audit.CategoryWebhook, "Duplicate notification dropped", fields)
		return OutcomeDuplicate, nil
	}

	r.recorder.Info(ctx, audit.CategoryWebhook, "Subscription status changed", fields)
	switch pre.Status {
	case "cancelled":
		r.recorder.Warn(ctx, audit.CategoryWebhook, "Subscription cancelled", fields)
	case "paused":
		r.recorder.Info(ctx, audit.CategoryWebhook, "Subscription paused", fields)
	}
	return OutcomeLogged, nil
}
