package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

// FollowUpReport summarizes a pending follow-up sweep
type FollowUpReport struct {
	Checked  int            `json:"checked"`
	Failed   int            `json:"failed"`
	ByStatus map[string]int `json:"byStatus"`
}

// FollowUpPending re-queries the processor for every transaction still pending
// after maxAge and records what the processor reports. Local rows are not
// changed; payment webhooks remain the only writer.
func (r *Reconciler) FollowUpPending(ctx context.Context, maxAge time.Duration) (FollowUpReport, error) {
	report := FollowUpReport{ByStatus: make(map[string]int)}

	cutoff := r.now().UTC().Add(-maxAge)
	pending, err := r.store.ListPendingTransactions(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		fields := map[string]any{
			"enrollee_id":     tx.EnrolleeID,
			"transaction_id":  tx.ID,
			"subscription_id": tx.ExternalSubscriptionID,
			"pending_since":   tx.CreatedAt.Format(time.RFC3339),
		}

		pre, err := r.processor.GetPreapproval(ctx, tx.ExternalSubscriptionID)
		if err != nil {
			report.Failed++
			r.recorder.Error(ctx, audit.CategoryProcessor, "Pending follow-up lookup failed", err, fields)
			continue
		}

		report.ByStatus[pre.Status]++
		fields["processor_status"] = pre.Status
		if pre.Status == string(enrollment.StatusPending) {
			r.recorder.Warn(ctx, audit.CategoryProcessor, "Subscription still pending at processor", fields)
		} else {
			r.recorder.Info(ctx, audit.CategoryProcessor, "Pending subscription has moved at processor", fields)
		}
	}

	return report, nil
}
