package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

// ObjectStore keeps export files and the export cursor
type ObjectStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ExportResult describes one export run
type ExportResult struct {
	Key   string    `json:"key,omitempty"`
	Rows  int       `json:"rows"`
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Exporter uploads the rows written since the previous export
type Exporter struct {
	rows     storage.RosterStore
	objects  ObjectStore
	prefix   string
	company  Company
	recorder *audit.Recorder
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewExporter creates an exporter writing under prefix
func NewExporter(rows storage.RosterStore, objects ObjectStore, prefix string, company Company, recorder *audit.Recorder, metrics *observability.Metrics) *Exporter {
	return &Exporter{
		rows:     rows,
		objects:  objects,
		prefix:   strings.Trim(prefix, "/"),
		company:  company,
		recorder: recorder,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (e *Exporter) cursorKey() string {
	if e.prefix == "" {
		return ".cursor"
	}
	return e.prefix + "/.cursor"
}

// cursor returns the creation time of the last exported row
func (e *Exporter) cursor(ctx context.Context) (time.Time, error) {
	data, err := e.objects.Get(ctx, e.cursorKey())
	if errors.Is(err, ErrObjectNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read export cursor: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid export cursor %q: %w", string(data), err)
	}
	return t, nil
}

// Export writes new rows as one CSV object and advances the cursor. A run with
// no new rows uploads nothing.
func (e *Exporter) Export(ctx context.Context) (ExportResult, error) {
	result, err := e.export(ctx)
	outcome := "success"
	if err != nil {
		outcome = "failed"
		e.recorder.Error(ctx, audit.CategoryExport, "Roster export failed", err, nil)
	} else if result.Rows == 0 {
		outcome = "empty"
	}
	e.metrics.RecordJobRun("roster_export", outcome)
	return result, err
}

func (e *Exporter) export(ctx context.Context) (ExportResult, error) {
	since, err := e.cursor(ctx)
	if err != nil {
		return ExportResult{}, err
	}

	rows, err := e.rows.ListRosterRows(ctx, since)
	if err != nil {
		return ExportResult{Since: since}, fmt.Errorf("failed to list roster rows: %w", err)
	}

	// ListRosterRows is inclusive; drop rows already exported at the cursor
	fresh := rows[:0]
	for _, r := range rows {
		if since.IsZero() || r.CreatedAt.After(since) {
			fresh = append(fresh, r)
		}
	}

	result := ExportResult{Since: since, Rows: len(fresh)}
	if len(fresh) == 0 {
		e.recorder.Info(ctx, audit.CategoryExport, "No new roster rows to export", map[string]any{"since": since.Format(time.RFC3339)})
		return result, nil
	}

	until := since
	for _, r := range fresh {
		if r.CreatedAt.After(until) {
			until = r.CreatedAt
		}
	}
	result.Until = until

	var buf bytes.Buffer
	if err := WriteCSV(&buf, fresh, e.company); err != nil {
		return result, err
	}

	key := objectKey(e.prefix, e.now())
	if err := e.objects.Put(ctx, key, buf.Bytes(), "text/csv; charset=utf-8"); err != nil {
		return result, err
	}
	result.Key = key

	if err := e.objects.Put(ctx, e.cursorKey(), []byte(until.UTC().Format(time.RFC3339Nano)), "text/plain"); err != nil {
		return result, fmt.Errorf("failed to advance export cursor: %w", err)
	}

	e.recorder.Info(ctx, audit.CategoryExport, "Roster exported", map[string]any{
		"key":   key,
		"rows":  len(fresh),
		"since": since.Format(time.RFC3339),
		"until": until.Format(time.RFC3339),
	})
	return result, nil
}
