//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/rates"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

// setupPostgresStore starts a PostgreSQL container and returns a migrated store
func setupPostgresStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("oncoplus_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(storage.Config{Driver: "postgres", URL: connStr, MaxConns: 5, Timeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := New(db, nil)
	require.NoError(t, store.Migrate(ctx))
	// migrations are idempotent
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresStore_EnrollmentLifecycle(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	first := testEnrollee()
	first.UniqueDocument = true
	enrolleeID, err := store.CreateEnrollee(ctx, first)
	require.NoError(t, err)

	second := testEnrollee()
	second.UniqueDocument = true
	_, err = store.CreateEnrollee(ctx, second)
	assert.ErrorIs(t, err, storage.ErrDuplicateDocument)

	match, err := store.FindByDocument(ctx, enrollment.DocumentTypeDNI, "12345678")
	require.NoError(t, err)
	assert.Equal(t, enrolleeID, match.EnrolleeID)

	summaries, err := store.CreateDependents(ctx, enrolleeID, []*enrollment.Dependent{{
		Person: enrollment.Person{
			FirstName:      "Luis",
			PaternalName:   "Quispe",
			MaternalName:   "Rojas",
			DocumentType:   enrollment.DocumentTypeDNI,
			DocumentNumber: "87654321",
			BirthDate:      "2010-01-20",
			Sex:            "M",
			Country:        "PER",
		},
		Relationship: enrollment.RelationshipSon,
		Age:          14,
		Quote:        enrollment.Quote{Age: 14, Primary: decimal.NewFromInt(10), Secondary: decimal.NewFromInt(20)},
	}})
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	deps, err := store.ListDependents(ctx, enrolleeID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "Luis", deps[0].Person.FirstName)

	created := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Microsecond)
	txID, err := store.CreateTransaction(ctx, &enrollment.Transaction{
		EnrolleeID:             enrolleeID,
		ExternalSubscriptionID: "sub-1",
		Amount:                 decimal.RequireFromString("50.50"),
		Currency:               "PEN",
		CreatedAt:              created,
		NextChargeAt:           created.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	pending, err := store.ListPendingTransactions(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, txID, pending[0].ID)

	previous, err := store.UpdateTransactionPayment(ctx, txID, "pay-9", enrollment.StatusApproved, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusPending, previous)

	tx, err := store.FindByExternalReference(ctx, enrolleeID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusApproved, tx.Status)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("50.5")))
}

func TestPostgresStore_RateRanges(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReplaceRateRanges(ctx, []rates.RateRange{
		rates.NewRange(0, rates.Bound(17), "10", "20"),
		rates.NewRange(18, nil, "15.75", "30"),
	}))

	got, err := store.Ranges(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[1].AgeTo)
	assert.True(t, got[1].Primary.Decimal.Equal(decimal.RequireFromString("15.75")))
}
