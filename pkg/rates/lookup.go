package rates

import (
	"context"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/observability"
)

// Table resolves ages against a Source. Lookup never fails: any problem with
// the pricing data yields an unavailable zero pair and a diagnostic entry.
type Table struct {
	source   Source
	recorder *audit.Recorder
	metrics  *observability.Metrics
}

// NewTable creates a rate table backed by source
func NewTable(source Source, recorder *audit.Recorder, metrics *observability.Metrics) *Table {
	return &Table{
		source:   source,
		recorder: recorder,
		metrics:  metrics,
	}
}

// Lookup returns the rate pair for age. Pass UnknownAge when the age could
// not be derived.
func (t *Table) Lookup(ctx context.Context, age int) Rates {
	ranges, err := t.source.Ranges(ctx)
	if err != nil {
		t.recorder.Error(ctx, audit.CategoryPricing, "Rate table could not be read", err, map[string]any{
			"age": age,
		})
		t.metrics.RecordRateLookup(string(MatchUnavailable))
		return Rates{}
	}

	result, kind := Match(ranges, age)
	switch kind {
	case MatchFallback:
		t.recorder.Warn(ctx, audit.CategoryPricing, "No age band matched, using fallback rates", map[string]any{
			"age":       age,
			"primary":   result.Primary.String(),
			"secondary": result.Secondary.String(),
		})
	case MatchUnavailable:
		t.recorder.Error(ctx, audit.CategoryPricing, "Rate table is empty or fallback rates are invalid", nil, map[string]any{
			"age":    age,
			"ranges": len(ranges),
		})
	}

	t.metrics.RecordRateLookup(string(kind))
	return result
}
