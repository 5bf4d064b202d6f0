package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/oncoplus/pkg/rates"
)

// Ranges returns the rate table in evaluation order
func (s *Store) Ranges(ctx context.Context) ([]rates.RateRange, error) {
	query := `
		SELECT age_from, age_to, rate_primary, rate_secondary
		FROM rate_ranges
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate ranges: %w", err)
	}
	defer rows.Close()

	ranges := make([]rates.RateRange, 0)
	for rows.Next() {
		var (
			r     rates.RateRange
			ageTo sql.NullInt64
		)
		if err := rows.Scan(&r.AgeFrom, &ageTo, &r.Primary, &r.Secondary); err != nil {
			return nil, fmt.Errorf("failed to scan rate range: %w", err)
		}
		if ageTo.Valid {
			r.AgeTo = rates.Bound(int(ageTo.Int64))
		}
		ranges = append(ranges, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate ranges: %w", err)
	}
	return ranges, nil
}

// ReplaceRateRanges swaps the whole rate table atomically. Slice order
// becomes evaluation order.
func (s *Store) ReplaceRateRanges(ctx context.Context, ranges []rates.RateRange) error {
	if err := rates.Validate(ranges); err != nil {
		return fmt.Errorf("invalid rate table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rate_ranges`); err != nil {
		return fmt.Errorf("failed to clear rate ranges: %w", err)
	}

	query := `
		INSERT INTO rate_ranges (position, age_from, age_to, rate_primary, rate_secondary)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, r := range ranges {
		var ageTo sql.NullInt64
		if r.AgeTo != nil {
			ageTo = sql.NullInt64{Int64: int64(*r.AgeTo), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query, i, r.AgeFrom, ageTo, nullRate(r.Primary), nullRate(r.Secondary)); err != nil {
			return fmt.Errorf("failed to insert rate range %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate ranges: %w", err)
	}
	return nil
}

func nullRate(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}
