// Package storage defines the persistence contract for enrollment records.
//
// The contract is split into focused interfaces that compose into RecordStore:
//
//   - EnrollmentWriter: append enrollees and dependent batches
//   - EnrollmentReader: lookups by id and by identity document
//   - TransactionStore: processor subscriptions and webhook reconciliation
//   - RateStore: the ordered premium rate table
//   - RosterStore: group-policy frame rows for the insurer
//
// Enrollee and dependent rows are append-only. Transactions are the only
// rows updated in place, and only by the webhook reconciler.
//
// The sqlstore subpackage implements RecordStore over database/sql and runs
// on PostgreSQL in production and SQLite in tests.
package storage
