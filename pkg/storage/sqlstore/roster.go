package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
)

// CreateRosterRows appends group-policy frame rows in one transaction
func (s *Store) CreateRosterRows(ctx context.Context, rows []*enrollment.RosterRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO roster_rows (
			id, enrollee_id, certificate_number, relationship_code, document_type_code,
			document_number, paternal_name, maternal_name, first_name, middle_name,
			birth_date, sex, country, movement, program,
			coverage_start, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17
		)
	`

	now := s.now().UTC()
	for _, r := range rows {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.EnrolleeID, r.CertificateNumber, r.RelationshipCode, r.DocumentTypeCode,
			r.DocumentNumber, r.PaternalName, r.MaternalName, r.FirstName, r.MiddleName,
			r.BirthDate, r.Sex, r.Country, r.Movement, r.Program,
			r.CoverageStart.UTC(), r.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to create roster row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit roster rows: %w", err)
	}
	return nil
}

// ListRosterRows returns rows created at or after since, grouped by
// certificate with the primary first
func (s *Store) ListRosterRows(ctx context.Context, since time.Time) ([]*enrollment.RosterRow, error) {
	query := `
		SELECT id, enrollee_id, certificate_number, relationship_code, document_type_code,
			document_number, paternal_name, maternal_name, first_name, middle_name,
			birth_date, sex, country, movement, program,
			coverage_start, created_at
		FROM roster_rows
		WHERE created_at >= $1
		ORDER BY created_at, certificate_number, relationship_code, document_number
	`

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list roster rows: %w", err)
	}
	defer rows.Close()

	out := make([]*enrollment.RosterRow, 0)
	for rows.Next() {
		var r enrollment.RosterRow
		if err := rows.Scan(
			&r.ID, &r.EnrolleeID, &r.CertificateNumber, &r.RelationshipCode, &r.DocumentTypeCode,
			&r.DocumentNumber, &r.PaternalName, &r.MaternalName, &r.FirstName, &r.MiddleName,
			&r.BirthDate, &r.Sex, &r.Country, &r.Movement, &r.Program,
			&r.CoverageStart, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		r.CoverageStart = r.CoverageStart.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roster rows: %w", err)
	}
	return out, nil
}
