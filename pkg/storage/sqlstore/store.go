package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

var tracer = otel.Tracer("oncoplus/storage/sqlstore")

// Store implements storage.RecordStore over database/sql
type Store struct {
	db       *sql.DB
	recorder *audit.Recorder
	now      func() time.Time
}

var _ storage.RecordStore = (*Store)(nil)

// New creates a store. recorder may be nil.
func New(db *sql.DB, recorder *audit.Recorder) *Store {
	return &Store{
		db:       db,
		recorder: recorder,
		now:      time.Now,
	}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// HealthCheck pings the database
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	return nil
}

func documentKey(docType enrollment.DocumentType, number string) string {
	return string(docType) + ":" + number
}

// CreateEnrollee appends an enrollee row and returns its id. The id, the
// registration time and the coverage start are filled in when unset.
func (s *Store) CreateEnrollee(ctx context.Context, e *enrollment.Enrollee) (string, error) {
	ctx, span := tracer.Start(ctx, "CreateEnrollee",
		trace.WithAttributes(attribute.String("document_type", string(e.Person.DocumentType))),
	)
	defer span.End()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = s.now().UTC()
	}
	if e.CoverageStart.IsZero() {
		e.CoverageStart = enrollment.CoverageStart(e.RegisteredAt)
	}

	var docKey sql.NullString
	if e.UniqueDocument {
		docKey = sql.NullString{String: documentKey(e.Person.DocumentType, e.Person.DocumentNumber), Valid: true}
	}

	query := `
		INSERT INTO enrollees (
			id, first_name, middle_name, paternal_name, maternal_name,
			document_type, document_number, document_key, birth_date, sex,
			country, email, phone, age, rate_primary,
			rate_secondary, total_primary, total_secondary, periodicity, recurring,
			dependent_count, health_declaration, sworn_declaration, privacy_declaration, coverage_start,
			registered_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26
		)
	`

	p := e.Person
	_, err := s.db.ExecContext(ctx, query,
		e.ID, p.FirstName, p.MiddleName, p.PaternalName, p.MaternalName,
		string(p.DocumentType), p.DocumentNumber, docKey, p.BirthDate, p.Sex,
		p.Country, p.Email, p.Phone, e.Age, e.Quote.Primary,
		e.Quote.Secondary, e.TotalPrimary, e.TotalSecondary, string(e.Periodicity), e.Recurring,
		e.DependentCount, e.Declarations.Health, e.Declarations.Sworn, e.Declarations.Privacy, e.CoverageStart.UTC(),
		e.RegisteredAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert enrollee")
		if isUniqueViolation(err) {
			return "", storage.ErrDuplicateDocument
		}
		return "", fmt.Errorf("failed to create enrollee: %w", err)
	}

	s.recorder.Info(ctx, audit.CategoryEnrollment, "Enrollee registered", map[string]any{
		"enrollee_id":    e.ID,
		"document_type":  string(p.DocumentType),
		"periodicity":    string(e.Periodicity),
		"recurring":      e.Recurring,
		"dependents":     e.DependentCount,
		"coverage_start": e.CoverageStart.Format("2006-01-02"),
	})

	return e.ID, nil
}

// CreateDependents appends one row per dependent in a single database
// transaction and returns their summaries in input order
func (s *Store) CreateDependents(ctx context.Context, enrolleeID string, deps []*enrollment.Dependent) ([]enrollment.DependentSummary, error) {
	ctx, span := tracer.Start(ctx, "CreateDependents",
		trace.WithAttributes(
			attribute.String("enrollee_id", enrolleeID),
			attribute.Int("count", len(deps)),
		),
	)
	defer span.End()

	if len(deps) == 0 {
		return []enrollment.DependentSummary{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO dependents (
			id, enrollee_id, position, first_name, middle_name,
			paternal_name, maternal_name, document_type, document_number, birth_date,
			sex, country, email, phone, relationship,
			age, rate_primary, rate_secondary, registered_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19
		)
	`

	now := s.now().UTC()
	summaries := make([]enrollment.DependentSummary, 0, len(deps))
	for i, d := range deps {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.EnrolleeID = enrolleeID
		if d.Position == 0 {
			d.Position = i + 1
		}
		if d.RegisteredAt.IsZero() {
			d.RegisteredAt = now
		}

		p := d.Person
		_, err := tx.ExecContext(ctx, query,
			d.ID, enrolleeID, d.Position, p.FirstName, p.MiddleName,
			p.PaternalName, p.MaternalName, string(p.DocumentType), p.DocumentNumber, p.BirthDate,
			p.Sex, p.Country, p.Email, p.Phone, string(d.Relationship),
			d.Age, d.Quote.Primary, d.Quote.Secondary, d.RegisteredAt.UTC(),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to insert dependent")
			return nil, fmt.Errorf("failed to create dependent %d: %w", d.Position, err)
		}

		summaries = append(summaries, enrollment.DependentSummary{
			ID:       d.ID,
			Position: d.Position,
			Name:     p.FullName(),
			Age:      d.Age,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dependents: %w", err)
	}

	s.recorder.Info(ctx, audit.CategoryEnrollment, "Dependents registered", map[string]any{
		"enrollee_id": enrolleeID,
		"count":       len(summaries),
	})

	return summaries, nil
}

const enrolleeColumns = `
	id, first_name, middle_name, paternal_name, maternal_name,
	document_type, document_number, document_key, birth_date, sex,
	country, email, phone, age, rate_primary,
	rate_secondary, total_primary, total_secondary, periodicity, recurring,
	dependent_count, health_declaration, sworn_declaration, privacy_declaration, coverage_start,
	registered_at`

// GetEnrollee returns an enrollee by id
func (s *Store) GetEnrollee(ctx context.Context, id string) (*enrollment.Enrollee, error) {
	query := `SELECT ` + enrolleeColumns + ` FROM enrollees WHERE id = $1`

	var (
		e           enrollment.Enrollee
		docType     string
		docKey      sql.NullString
		periodicity string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.Person.FirstName, &e.Person.MiddleName, &e.Person.PaternalName, &e.Person.MaternalName,
		&docType, &e.Person.DocumentNumber, &docKey, &e.Person.BirthDate, &e.Person.Sex,
		&e.Person.Country, &e.Person.Email, &e.Person.Phone, &e.Age, &e.Quote.Primary,
		&e.Quote.Secondary, &e.TotalPrimary, &e.TotalSecondary, &periodicity, &e.Recurring,
		&e.DependentCount, &e.Declarations.Health, &e.Declarations.Sworn, &e.Declarations.Privacy, &e.CoverageStart,
		&e.RegisteredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollee: %w", err)
	}

	e.Person.DocumentType = enrollment.DocumentType(docType)
	e.Periodicity = enrollment.Periodicity(periodicity)
	e.Quote.Age = e.Age
	e.UniqueDocument = docKey.Valid
	e.CoverageStart = e.CoverageStart.UTC()
	e.RegisteredAt = e.RegisteredAt.UTC()
	return &e, nil
}

// ListDependents returns the dependents of an enrollee ordered by position
func (s *Store) ListDependents(ctx context.Context, enrolleeID string) ([]*enrollment.Dependent, error) {
	query := `
		SELECT id, enrollee_id, position, first_name, middle_name,
			paternal_name, maternal_name, document_type, document_number, birth_date,
			sex, country, email, phone, relationship,
			age, rate_primary, rate_secondary, registered_at
		FROM dependents
		WHERE enrollee_id = $1
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, enrolleeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents: %w", err)
	}
	defer rows.Close()

	deps := make([]*enrollment.Dependent, 0)
	for rows.Next() {
		var (
			d            enrollment.Dependent
			docType      string
			relationship string
		)
		if err := rows.Scan(
			&d.ID, &d.EnrolleeID, &d.Position, &d.Person.FirstName, &d.Person.MiddleName,
			&d.Person.PaternalName, &d.Person.MaternalName, &docType, &d.Person.DocumentNumber, &d.Person.BirthDate,
			&d.Person.Sex, &d.Person.Country, &d.Person.Email, &d.Person.Phone, &relationship,
			&d.Age, &d.Quote.Primary, &d.Quote.Secondary, &d.RegisteredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		d.Person.DocumentType = enrollment.DocumentType(docType)
		d.Relationship = enrollment.Relationship(relationship)
		d.Quote.Age = d.Age
		d.RegisteredAt = d.RegisteredAt.UTC()
		deps = append(deps, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependents: %w", err)
	}
	return deps, nil
}

// FindByDocument reports whether an enrollee with the given identity
// document exists. The earliest registration wins when several match.
func (s *Store) FindByDocument(ctx context.Context, docType enrollment.DocumentType, number string) (storage.DocumentMatch, error) {
	query := `
		SELECT id, first_name, middle_name, paternal_name, maternal_name, email
		FROM enrollees
		WHERE document_type = $1 AND document_number = $2
		ORDER BY registered_at
		LIMIT 1
	`

	var (
		match storage.DocumentMatch
		p     enrollment.Person
	)
	err := s.db.QueryRowContext(ctx, query, string(docType), number).Scan(
		&match.EnrolleeID, &p.FirstName, &p.MiddleName, &p.PaternalName, &p.MaternalName, &match.Email,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DocumentMatch{Exists: false}, nil
	}
	if err != nil {
		return storage.DocumentMatch{}, fmt.Errorf("failed to find enrollee by document: %w", err)
	}

	match.Exists = true
	match.Name = p.FullName()
	return match, nil
}
