package main

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/roster"
)

// RosterExporter uploads new roster rows
type RosterExporter interface {
	Export(ctx context.Context) (roster.ExportResult, error)
}

// PendingFollower re-checks stale pending transactions
type PendingFollower interface {
	FollowUpPending(ctx context.Context, maxAge time.Duration) (billing.FollowUpReport, error)
}

// jobRunner executes scheduled jobs one at a time per job name
type jobRunner struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu      sync.Mutex
	running map[string]bool
}

func newJobRunner(logger *observability.Logger, metrics *observability.Metrics, timeout time.Duration) *jobRunner {
	return &jobRunner{
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		running: make(map[string]bool),
	}
}

// run executes fn unless the previous run of the same job is still going.
// Panics are recovered and counted as failures.
func (j *jobRunner) run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	j.mu.Lock()
	if j.running[name] {
		j.mu.Unlock()
		j.logger.WithField("job", name).Warn("Previous run still in progress, skipping")
		j.metrics.RecordJobRun(name, "skipped")
		return nil
	}
	j.running[name] = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		delete(j.running, name)
		j.mu.Unlock()
	}()

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	logger := j.logger.WithField("job", name)
	start := time.Now()
	defer func() {
		if perr := observability.RecoverToError(logger, name, recover()); perr != nil {
			err = perr
			j.metrics.RecordJobRun(name, "failed")
		}
	}()

	logger.Info("Job started")
	if err = fn(ctx); err != nil {
		logger.WithError(err).WithField("duration_ms", time.Since(start).Milliseconds()).Error("Job failed")
		return err
	}
	logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Job finished")
	return nil
}

func rosterJob(exporter RosterExporter, logger *observability.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		result, err := exporter.Export(ctx)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"key":  result.Key,
			"rows": result.Rows,
		}).Info("Roster export complete")
		return nil
	}
}

func followUpJob(follower PendingFollower, maxAge time.Duration, metrics *observability.Metrics, logger *observability.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		report, err := follower.FollowUpPending(ctx, maxAge)
		if err != nil {
			metrics.RecordJobRun("followup", "failed")
			return err
		}
		outcome := "success"
		if report.Failed > 0 {
			outcome = "partial"
		}
		metrics.RecordJobRun("followup", outcome)
		logger.WithFields(map[string]interface{}{
			"checked":   report.Checked,
			"failed":    report.Failed,
			"by_status": report.ByStatus,
		}).Info("Pending follow-up complete")
		return nil
	}
}
