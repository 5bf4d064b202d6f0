package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger appends audit entries to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		level VARCHAR(10) NOT NULL,
		category VARCHAR(50) NOT NULL,
		message TEXT NOT NULL,
		context TEXT,
		origin VARCHAR(100),
		actor VARCHAR(255)
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_category ON audit_logs(category, level);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts an entry
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	contextJSON, err := entry.ContextJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit context: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, timestamp, level, category, message, context, origin, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = l.db.ExecContext(ctx, query,
		entry.ID, entry.Timestamp, string(entry.Level), string(entry.Category),
		entry.Message, string(contextJSON), entry.Origin, entry.Actor,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Query reads entries back, newest first
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Level != "" {
		args = append(args, string(filter.Level))
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	query := `SELECT id, timestamp, level, category, message, context, origin, actor FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e           Entry
			level       string
			category    string
			contextJSON sql.NullString
			origin      sql.NullString
			actor       sql.NullString
			ts          time.Time
		)
		if err := rows.Scan(&e.ID, &ts, &level, &category, &e.Message, &contextJSON, &origin, &actor); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.Timestamp = ts
		e.Level = Level(level)
		e.Category = Category(category)
		e.Origin = origin.String
		e.Actor = actor.String
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit context: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
