package storage

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/rates"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateDocument is returned when an enrollee with the same
	// document type and number already exists and uniqueness was requested
	ErrDuplicateDocument = errors.New("an enrollee with this document already exists")
)

// DocumentMatch is the result of a duplicate-document lookup
type DocumentMatch struct {
	Exists     bool   `json:"exists"`
	EnrolleeID string `json:"enrolleeId,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
}

// EnrollmentWriter appends enrollees and their dependents. Rows are immutable.
type EnrollmentWriter interface {
	CreateEnrollee(ctx context.Context, e *enrollment.Enrollee) (string, error)
	CreateDependents(ctx context.Context, enrolleeID string, deps []*enrollment.Dependent) ([]enrollment.DependentSummary, error)
}

// EnrollmentReader looks up enrollees and dependents
type EnrollmentReader interface {
	GetEnrollee(ctx context.Context, id string) (*enrollment.Enrollee, error)
	ListDependents(ctx context.Context, enrolleeID string) ([]*enrollment.Dependent, error)
	FindByDocument(ctx context.Context, docType enrollment.DocumentType, number string) (DocumentMatch, error)
}

// TransactionStore records processor subscriptions and their reconciliation
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx *enrollment.Transaction) (string, error)
	// FindByExternalReference returns the most recent transaction of an
	// enrollee, or ErrNotFound
	FindByExternalReference(ctx context.Context, ref string) (*enrollment.Transaction, error)
	// UpdateTransactionPayment sets the payment id and status in place and
	// returns the status the row held before the update
	UpdateTransactionPayment(ctx context.Context, id string, paymentID string, status enrollment.TransactionStatus, at time.Time) (enrollment.TransactionStatus, error)
	ListPendingTransactions(ctx context.Context, olderThan time.Time) ([]*enrollment.Transaction, error)
}

// RateStore persists the ordered rate table
type RateStore interface {
	rates.Source
	ReplaceRateRanges(ctx context.Context, ranges []rates.RateRange) error
}

// RosterStore keeps the group-policy frame rows
type RosterStore interface {
	CreateRosterRows(ctx context.Context, rows []*enrollment.RosterRow) error
	ListRosterRows(ctx context.Context, since time.Time) ([]*enrollment.RosterRow, error)
}

// HealthChecker reports backend availability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RecordStore is the full persistence surface used by the service
type RecordStore interface {
	EnrollmentWriter
	EnrollmentReader
	TransactionStore
	RateStore
	RosterStore
	HealthChecker
}

// Config for the SQL backend
type Config struct {
	Driver      string // "postgres" or "sqlite3"
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:      "postgres",
		MaxConns:    20,
		MinConns:    2,
		Timeout:     10 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}
