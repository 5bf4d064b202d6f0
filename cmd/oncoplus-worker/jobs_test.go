package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/roster"
)

type fakeExporter struct {
	result roster.ExportResult
	err    error
	calls  int
}

func (f *fakeExporter) Export(ctx context.Context) (roster.ExportResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeFollower struct {
	out    billing.FollowUpReport
	err    error
	maxAge time.Duration
}

func (f *fakeFollower) FollowUpPending(ctx context.Context, maxAge time.Duration) (billing.FollowUpReport, error) {
	f.maxAge = maxAge
	return f.out, f.err
}

func testRunner() (*jobRunner, *observability.Metrics, *bytes.Buffer) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return newJobRunner(observability.NewLogger(observability.InfoLevel, &buf), metrics, time.Second), metrics, &buf
}

func TestJobRunner_Run(t *testing.T) {
	runner, _, buf := testRunner()

	err := runner.run(context.Background(), "noop", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "job context should carry the timeout")
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Job finished")

	err = runner.run(context.Background(), "noop", func(ctx context.Context) error {
		return errors.New("bucket missing")
	})
	assert.EqualError(t, err, "bucket missing")
	assert.Contains(t, buf.String(), "Job failed")
}

func TestJobRunner_RecoversPanic(t *testing.T) {
	runner, metrics, _ := testRunner()

	err := runner.run(context.Background(), jobFollowUp, func(ctx context.Context) error {
		panic("nil reconciler")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil reconciler")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(jobFollowUp, "failed")))

	// the job is runnable again after a panic
	assert.NoError(t, runner.run(context.Background(), jobFollowUp, func(ctx context.Context) error { return nil }))
}

func TestJobRunner_SkipsOverlappingRuns(t *testing.T) {
	runner, metrics, _ := testRunner()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, runner.run(context.Background(), jobRoster, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}))
	}()

	<-started
	calls := 0
	require.NoError(t, runner.run(context.Background(), jobRoster, func(ctx context.Context) error {
		calls++
		return nil
	}))
	close(release)
	wg.Wait()

	assert.Equal(t, 0, calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(jobRoster, "skipped")))
}

func TestFollowUpJob(t *testing.T) {
	tests := []struct {
		name    string
		out     billing.FollowUpReport
		err     error
		outcome string
	}{
		{name: "all checked", out: billing.FollowUpReport{Checked: 3, ByStatus: map[string]int{"approved": 3}}, outcome: "success"},
		{name: "some failed", out: billing.FollowUpReport{Checked: 3, Failed: 1}, outcome: "partial"},
		{name: "query failed", err: errors.New("db down"), outcome: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, metrics, buf := testRunner()
			follower := &fakeFollower{out: tt.out, err: tt.err}
			logger := observability.NewLogger(observability.InfoLevel, buf)

			err := followUpJob(follower, 6*time.Hour, metrics, logger)(context.Background())
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 6*time.Hour, follower.maxAge)
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(jobFollowUp, tt.outcome)))
		})
	}
}

func TestRosterJob(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	exporter := &fakeExporter{result: roster.ExportResult{Key: "trama/2026-10-19.csv", Rows: 4}}
	require.NoError(t, rosterJob(exporter, logger)(context.Background()))
	assert.Contains(t, buf.String(), "trama/2026-10-19.csv")

	exporter.err = errors.New("access denied")
	assert.EqualError(t, rosterJob(exporter, logger)(context.Background()), "access denied")
	assert.Equal(t, 2, exporter.calls)
}

func TestRunSelected(t *testing.T) {
	runner, _, _ := testRunner()
	var ran []string
	jobs := map[string]func(ctx context.Context) error{
		jobRoster: func(ctx context.Context) error {
			ran = append(ran, jobRoster)
			return errors.New("upload failed")
		},
		jobFollowUp: func(ctx context.Context) error {
			ran = append(ran, jobFollowUp)
			return nil
		},
	}

	err := runSelected(context.Background(), runner, jobs, "all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roster_export: upload failed")
	assert.Equal(t, []string{jobRoster, jobFollowUp}, ran)

	ran = nil
	require.NoError(t, runSelected(context.Background(), runner, jobs, jobFollowUp))
	assert.Equal(t, []string{jobFollowUp}, ran)

	assert.Error(t, runSelected(context.Background(), runner, map[string]func(ctx context.Context) error{}, jobFollowUp))
}
