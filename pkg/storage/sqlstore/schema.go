package sqlstore

import (
	"context"
	"fmt"
)

// schema is portable between PostgreSQL and SQLite. Identifiers are
// generated by the application, so no sequences are needed.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS enrollees (
		id VARCHAR(36) PRIMARY KEY,
		first_name TEXT NOT NULL,
		middle_name TEXT NOT NULL DEFAULT '',
		paternal_name TEXT NOT NULL,
		maternal_name TEXT NOT NULL,
		document_type VARCHAR(8) NOT NULL,
		document_number VARCHAR(32) NOT NULL,
		document_key VARCHAR(48) UNIQUE,
		birth_date VARCHAR(32) NOT NULL,
		sex VARCHAR(16) NOT NULL,
		country VARCHAR(64) NOT NULL,
		email TEXT NOT NULL,
		phone VARCHAR(32) NOT NULL,
		age INTEGER NOT NULL,
		rate_primary NUMERIC(12,2) NOT NULL,
		rate_secondary NUMERIC(12,2) NOT NULL,
		total_primary NUMERIC(12,2) NOT NULL,
		total_secondary NUMERIC(12,2) NOT NULL,
		periodicity VARCHAR(16) NOT NULL,
		recurring BOOLEAN NOT NULL,
		dependent_count INTEGER NOT NULL,
		health_declaration BOOLEAN NOT NULL,
		sworn_declaration BOOLEAN NOT NULL,
		privacy_declaration BOOLEAN NOT NULL,
		coverage_start TIMESTAMP NOT NULL,
		registered_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrollees_document ON enrollees(document_type, document_number)`,
	`CREATE TABLE IF NOT EXISTS dependents (
		id VARCHAR(36) PRIMARY KEY,
		enrollee_id VARCHAR(36) NOT NULL REFERENCES enrollees(id),
		position INTEGER NOT NULL,
		first_name TEXT NOT NULL,
		middle_name TEXT NOT NULL DEFAULT '',
		paternal_name TEXT NOT NULL,
		maternal_name TEXT NOT NULL,
		document_type VARCHAR(8) NOT NULL,
		document_number VARCHAR(32) NOT NULL,
		birth_date VARCHAR(32) NOT NULL,
		sex VARCHAR(16) NOT NULL,
		country VARCHAR(64) NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone VARCHAR(32) NOT NULL DEFAULT '',
		relationship VARCHAR(16) NOT NULL,
		age INTEGER NOT NULL,
		rate_primary NUMERIC(12,2) NOT NULL,
		rate_secondary NUMERIC(12,2) NOT NULL,
		registered_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dependents_enrollee ON dependents(enrollee_id, position)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id VARCHAR(36) PRIMARY KEY,
		enrollee_id VARCHAR(36) NOT NULL REFERENCES enrollees(id),
		external_subscription_id VARCHAR(128) NOT NULL,
		external_payment_id VARCHAR(128),
		amount NUMERIC(12,2) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		next_charge_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_enrollee ON transactions(enrollee_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS rate_ranges (
		position INTEGER PRIMARY KEY,
		age_from INTEGER NOT NULL,
		age_to INTEGER,
		rate_primary NUMERIC(12,2),
		rate_secondary NUMERIC(12,2)
	)`,
	`CREATE TABLE IF NOT EXISTS roster_rows (
		id VARCHAR(36) PRIMARY KEY,
		enrollee_id VARCHAR(36) NOT NULL REFERENCES enrollees(id),
		certificate_number VARCHAR(32) NOT NULL,
		relationship_code VARCHAR(2) NOT NULL,
		document_type_code VARCHAR(2) NOT NULL,
		document_number VARCHAR(32) NOT NULL,
		paternal_name TEXT NOT NULL,
		maternal_name TEXT NOT NULL,
		first_name TEXT NOT NULL,
		middle_name TEXT NOT NULL,
		birth_date VARCHAR(32) NOT NULL,
		sex VARCHAR(16) NOT NULL,
		country VARCHAR(8) NOT NULL,
		movement VARCHAR(16) NOT NULL,
		program VARCHAR(16) NOT NULL,
		coverage_start TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_roster_rows_created ON roster_rows(created_at)`,
}

// Migrate creates the tables and indexes if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
