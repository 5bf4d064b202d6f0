package audit

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/oncoplus/pkg/contextkeys"
	"github.com/platinummonkey/oncoplus/pkg/observability"
)

type memoryLogger struct {
	entries []*Entry
	err     error
	closed  bool
}

func (m *memoryLogger) Log(ctx context.Context, e *Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryLogger) Close() error {
	m.closed = true
	return m.err
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBLogger_LogAndQuery(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{ID: "a", Timestamp: base, Level: LevelInfo, Category: CategoryEnrollment, Message: "Enrollee registered", Context: map[string]any{"enrollee_id": "e-1"}, Origin: "intake", Actor: "system"},
		{ID: "b", Timestamp: base.Add(time.Minute), Level: LevelWarning, Category: CategoryWebhook, Message: "Reconciliation miss", Origin: "webhook"},
		{ID: "c", Timestamp: base.Add(2 * time.Minute), Level: LevelError, Category: CategoryPricing, Message: "Rate table empty"},
	}
	for _, e := range entries {
		require.NoError(t, logger.Log(ctx, e))
	}

	all, err := logger.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)
	assert.Equal(t, "e-1", all[2].Context["enrollee_id"])
	assert.Equal(t, "intake", all[2].Origin)

	webhook, err := logger.Query(ctx, Filter{Category: CategoryWebhook})
	require.NoError(t, err)
	require.Len(t, webhook, 1)
	assert.Equal(t, LevelWarning, webhook[0].Level)
	assert.Empty(t, webhook[0].Context)

	since := base.Add(30 * time.Second)
	recent, err := logger.Query(ctx, Filter{Since: &since, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c", recent[0].ID)

	assert.NoError(t, logger.Close())
}

func TestNewDBLogger_NilDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLogger_LogError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnError(errors.New("read-only transaction"))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	err = logger.Log(context.Background(), &Entry{ID: "x", Timestamp: time.Now(), Level: LevelInfo, Category: CategorySystem, Message: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit log")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMultiLogger(t *testing.T) {
	failing := &memoryLogger{err: errors.New("sink down")}
	healthy := &memoryLogger{}
	multi := NewMultiLogger(failing, healthy)

	err := multi.Log(context.Background(), &Entry{ID: "1"})
	assert.EqualError(t, err, "sink down")
	assert.Len(t, healthy.entries, 1)

	assert.Error(t, multi.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(context.Background(), &Entry{ID: "1", Message: "first", Category: CategorySystem}))
	require.NoError(t, logger.Log(context.Background(), &Entry{ID: "2", Message: "second", Category: CategorySystem}))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "second", lines[1].Message)
}

func TestRecorder_WritesLogAndEntry(t *testing.T) {
	var buf bytes.Buffer
	sink := &memoryLogger{}
	recorder := NewRecorder(observability.NewLogger(observability.DebugLevel, &buf), sink, "intake")
	recorder.now = func() time.Time { return time.Date(2024, 6, 1, 7, 0, 0, 0, time.FixedZone("PET", -5*3600)) }

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithActor(ctx, "ana@example.com")

	recorder.Error(ctx, CategoryProcessor, "Preapproval failed", errors.New("401"), map[string]any{"enrollee_id": "e-1"})

	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, LevelError, e.Level)
	assert.Equal(t, CategoryProcessor, e.Category)
	assert.Equal(t, "intake", e.Origin)
	assert.Equal(t, "ana@example.com", e.Actor)
	assert.Equal(t, "e-1", e.Context["enrollee_id"])
	assert.Equal(t, "401", e.Context["error"])
	assert.Equal(t, "req-1", e.Context["request_id"])
	assert.Equal(t, time.UTC, e.Timestamp.Location())

	out := buf.String()
	assert.Contains(t, out, `"category":"processor"`)
	assert.Contains(t, out, `"message":"Preapproval failed"`)
	assert.Contains(t, out, `"request_id":"req-1"`)
}

func TestRecorder_SinkFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	recorder := NewRecorder(observability.NewLogger(observability.InfoLevel, &buf), &memoryLogger{err: errors.New("db gone")}, "test")

	recorder.Info(context.Background(), CategorySystem, "hello", nil)

	assert.True(t, strings.Contains(buf.String(), "Failed to write audit entry"))
}

func TestRecorder_NilAndDefaults(t *testing.T) {
	var nilRecorder *Recorder
	assert.NotPanics(t, func() {
		nilRecorder.Warn(context.Background(), CategorySystem, "ignored", nil)
	})
	assert.Nil(t, nilRecorder.WithOrigin("x"))

	sink := &memoryLogger{}
	recorder := NewRecorder(observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), sink, "a").WithOrigin("b")
	recorder.Warn(context.Background(), CategoryWebhook, "warned", nil)
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "b", sink.entries[0].Origin)
	assert.Equal(t, "system", sink.entries[0].Actor)
}

func TestContextHelpers(t *testing.T) {
	sink := &memoryLogger{}
	ctx := WithLogger(context.Background(), sink)
	assert.Same(t, sink, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestEntry_ContextJSON(t *testing.T) {
	e := &Entry{}
	data, err := e.ContextJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	e.Context = map[string]any{"k": "v"}
	data, err = e.ContextJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(data))
}
