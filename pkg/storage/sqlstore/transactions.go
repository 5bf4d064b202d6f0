package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

const transactionColumns = `
	id, enrollee_id, external_subscription_id, external_payment_id, amount,
	currency, status, created_at, updated_at, next_charge_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*enrollment.Transaction, error) {
	var (
		tx        enrollment.Transaction
		paymentID sql.NullString
		status    string
	)
	if err := row.Scan(
		&tx.ID, &tx.EnrolleeID, &tx.ExternalSubscriptionID, &paymentID, &tx.Amount,
		&tx.Currency, &status, &tx.CreatedAt, &tx.UpdatedAt, &tx.NextChargeAt,
	); err != nil {
		return nil, err
	}
	if paymentID.Valid {
		tx.ExternalPaymentID = &paymentID.String
	}
	tx.Status = enrollment.TransactionStatus(status)
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	tx.NextChargeAt = tx.NextChargeAt.UTC()
	return &tx, nil
}

// CreateTransaction records a processor subscription and returns its id
func (s *Store) CreateTransaction(ctx context.Context, tx *enrollment.Transaction) (string, error) {
	ctx, span := tracer.Start(ctx, "CreateTransaction",
		trace.WithAttributes(
			attribute.String("enrollee_id", tx.EnrolleeID),
			attribute.String("status", string(tx.Status)),
		),
	)
	defer span.End()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	if tx.Status == "" {
		tx.Status = enrollment.StatusPending
	}

	var paymentID sql.NullString
	if tx.ExternalPaymentID != nil {
		paymentID = sql.NullString{String: *tx.ExternalPaymentID, Valid: true}
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.EnrolleeID, tx.ExternalSubscriptionID, paymentID, tx.Amount,
		tx.Currency, string(tx.Status), tx.CreatedAt.UTC(), tx.UpdatedAt.UTC(), tx.NextChargeAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert transaction")
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	return tx.ID, nil
}

// FindByExternalReference returns the most recent transaction of the
// enrollee the processor echoed back as external reference
func (s *Store) FindByExternalReference(ctx context.Context, ref string) (*enrollment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE enrollee_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return tx, nil
}

// UpdateTransactionPayment stores the payment id and status reported by the
// processor and returns the previous status
func (s *Store) UpdateTransactionPayment(ctx context.Context, id string, paymentID string, status enrollment.TransactionStatus, at time.Time) (enrollment.TransactionStatus, error) {
	ctx, span := tracer.Start(ctx, "UpdateTransactionPayment",
		trace.WithAttributes(
			attribute.String("transaction_id", id),
			attribute.String("status", string(status)),
		),
	)
	defer span.End()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var previous string
	err = dbTx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read transaction status: %w", err)
	}

	var payment sql.NullString
	if paymentID != "" {
		payment = sql.NullString{String: paymentID, Valid: true}
	}

	query := `
		UPDATE transactions
		SET external_payment_id = COALESCE($1, external_payment_id), status = $2, updated_at = $3
		WHERE id = $4
	`
	if _, err := dbTx.ExecContext(ctx, query, payment, string(status), at.UTC(), id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update transaction")
		return "", fmt.Errorf("failed to update transaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction update: %w", err)
	}

	return enrollment.TransactionStatus(previous), nil
}

// ListPendingTransactions returns pending transactions created at or before
// olderThan, oldest first
func (s *Store) ListPendingTransactions(ctx context.Context, olderThan time.Time) ([]*enrollment.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, string(enrollment.StatusPending), olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*enrollment.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}
