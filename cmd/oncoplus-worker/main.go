package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/config"
	"github.com/platinummonkey/oncoplus/pkg/lock"
	"github.com/platinummonkey/oncoplus/pkg/notifications"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/processor"
	"github.com/platinummonkey/oncoplus/pkg/roster"
	"github.com/platinummonkey/oncoplus/pkg/storage/sqlstore"
)

const (
	jobRoster   = "roster_export"
	jobFollowUp = "followup"
)

var (
	runOnce     = flag.Bool("run-once", false, "Run the selected job once and exit")
	job         = flag.String("job", "all", "Job to run with -run-once: roster_export, followup or all")
	metricsAddr = flag.String("metrics-addr", "", "Address to serve /metrics on (disabled when empty)")
	jobTimeout  = flag.Duration("job-timeout", 15*time.Minute, "Maximum duration of a single job run")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("Invalid worker configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Worker exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	sink, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	defer sink.Close()
	recorder := audit.NewRecorder(logger, sink, "worker")

	store := sqlstore.New(db, recorder.WithOrigin("storage"))
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		var client *redis.Client
		client, err = lock.NewRedisClient(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, "", 0)
	}

	runner := newJobRunner(logger, metrics, *jobTimeout)
	jobs := map[string]func(ctx context.Context) error{}

	if cfg.Export.S3.Bucket != "" {
		uploader, err := roster.NewS3Uploader(ctx, cfg.Export.S3)
		if err != nil {
			return err
		}
		exporter := roster.NewExporter(store, uploader, cfg.Export.Prefix, cfg.Export.Company, recorder.WithOrigin("export"), metrics)
		jobs[jobRoster] = rosterJob(exporter, logger)
	}

	client := processor.NewClient(cfg.Processor.Config, metrics)
	if client.Configured() {
		notifier := notifications.NewService(store, cfg.Enrollment.WaitingMonths, recorder.WithOrigin("notifications"), metrics, senders(cfg.Notifications)...)
		reconciler := billing.NewReconciler(client, store, locker, notifier, cfg.Processor.Reconciler(), recorder.WithOrigin("followup"), metrics)
		jobs[jobFollowUp] = followUpJob(reconciler, cfg.Export.FollowUpMaxAge, metrics, logger)
	} else {
		logger.Warn("Payment processor access token is not set, pending follow-up disabled")
	}

	if *runOnce {
		return runSelected(ctx, runner, jobs, *job)
	}

	if *metricsAddr != "" && metrics != nil {
		router := mux.NewRouter()
		observability.RegisterMetricsEndpoint(router, registry)
		srv := &http.Server{Addr: *metricsAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	c := cron.New()
	schedules := map[string]string{
		jobRoster:   cfg.Export.RosterSchedule,
		jobFollowUp: cfg.Export.FollowUpSchedule,
	}
	scheduled := 0
	for name, fn := range jobs {
		spec := schedules[name]
		if spec == "" {
			continue
		}
		name, fn := name, fn
		if _, err := c.AddFunc(spec, func() { _ = runner.run(ctx, name, fn) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
		logger.WithField("job", name).WithField("schedule", spec).Info("Job scheduled")
		scheduled++
	}
	if scheduled == 0 {
		return errors.New("no jobs scheduled")
	}

	c.Start()
	logger.Info("Worker started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully")

	<-c.Stop().Done()
	logger.Info("Worker stopped")
	return nil
}

// runSelected runs one job, or every configured job for "all", in a fixed order.
func runSelected(ctx context.Context, runner *jobRunner, jobs map[string]func(ctx context.Context) error, selected string) error {
	order := []string{jobRoster, jobFollowUp}
	if selected != "all" {
		if _, ok := jobs[selected]; !ok {
			return fmt.Errorf("job %q is unknown or not configured", selected)
		}
		order = []string{selected}
	}

	var errs []error
	for _, name := range order {
		fn, ok := jobs[name]
		if !ok {
			continue
		}
		if err := runner.run(ctx, name, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func senders(cfg config.NotificationsConfig) []notifications.Sender {
	var out []notifications.Sender
	if cfg.SMTP.Host != "" {
		out = append(out, notifications.NewEmailSender(cfg.SMTP))
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notifications.NewWebhookSender(cfg.Webhook))
	}
	return out
}
