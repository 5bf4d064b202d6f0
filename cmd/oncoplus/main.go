package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/oncoplus/pkg/api"
	"github.com/platinummonkey/oncoplus/pkg/audit"
	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/config"
	"github.com/platinummonkey/oncoplus/pkg/intake"
	"github.com/platinummonkey/oncoplus/pkg/lock"
	"github.com/platinummonkey/oncoplus/pkg/middleware"
	"github.com/platinummonkey/oncoplus/pkg/notifications"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/premium"
	"github.com/platinummonkey/oncoplus/pkg/processor"
	"github.com/platinummonkey/oncoplus/pkg/rates"
	"github.com/platinummonkey/oncoplus/pkg/storage/sqlstore"
	"github.com/platinummonkey/oncoplus/pkg/validation"
)

var version = "dev"

var seedRates = flag.Bool("seed-rates", false, "Load ONCOPLUS_RATES_FILE into the database and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, cfg.Observability.Tracing, logger)
	if err != nil {
		return err
	}

	db, err := sqlstore.Open(cfg.Database)
	if err != nil {
		return err
	}

	sink, err := openAuditSink(db, cfg.Observability.AuditLogFile)
	if err != nil {
		db.Close()
		return err
	}
	recorder := audit.NewRecorder(logger, sink, "api")

	store := sqlstore.New(db, recorder.WithOrigin("storage"))
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	if *seedRates {
		defer db.Close()
		return seedRateTable(ctx, store, cfg.Enrollment.RatesFile, logger)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var (
		redisClient *redis.Client
		locker      lock.Locker = lock.NewLocalLocker()
		limiter     middleware.Limiter
		local       *middleware.RateLimiter
	)
	if cfg.Redis.Enabled {
		redisClient, err = lock.NewRedisClient(ctx, cfg.Redis.RedisConfig)
		if err != nil {
			db.Close()
			return err
		}
		locker = lock.NewRedisLocker(redisClient, "", 0)
		if cfg.Server.RateLimit != nil {
			limiter = middleware.NewDistributedRateLimiter(redisClient, cfg.Server.RateLimit, "")
		}
		logger.Info("Using Redis for reconciliation locks")
	}
	if limiter == nil && cfg.Server.RateLimit != nil {
		local = middleware.NewRateLimiter(cfg.Server.RateLimit)
		limiter = local
	}

	var source rates.Source = store
	var fileSource *rates.FileSource
	if cfg.Enrollment.RatesFile != "" {
		fileSource, err = rates.NewFileSource(cfg.Enrollment.RatesFile, logger)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to load rate table: %w", err)
		}
		source = fileSource
	}
	table := rates.NewTable(source, recorder.WithOrigin("pricing"), metrics)

	client := processor.NewClient(cfg.Processor.Config, metrics)
	if !client.Configured() {
		logger.Warn("Payment processor access token is not set, recurring enrollments will fail")
	}

	notifier := notifications.NewService(store, cfg.Enrollment.WaitingMonths, recorder.WithOrigin("notifications"), metrics, senders(cfg.Notifications)...)
	gateway := billing.NewGateway(client, store, cfg.Processor.Gateway(), recorder.WithOrigin("billing"), metrics)
	reconciler := billing.NewReconciler(client, store, locker, notifier, cfg.Processor.Reconciler(), recorder.WithOrigin("webhook"), metrics)

	validator := validation.NewValidator(&validation.Config{MaxDependents: cfg.Enrollment.MaxDependents})
	intakeService := intake.NewService(
		store,
		validator,
		premium.NewCalculator(table, nil),
		gateway,
		notifier,
		intake.Config{DuplicatePolicy: cfg.Enrollment.DuplicatePolicy},
		logger,
		recorder.WithOrigin("intake"),
		metrics,
	)

	health := observability.NewHealthChecker(db, redisClient, version)
	health.AddCheck("rate_table", false, rateTableCheck(source))

	opts := api.Options{
		Intake:         intakeService,
		Rates:          table,
		Reconciler:     reconciler,
		Health:         health,
		Metrics:        metrics,
		Limiter:        limiter,
		Logger:         logger,
		Recorder:       recorder.WithOrigin("webhook"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}
	if metrics != nil {
		opts.Registry = registry
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(ctx context.Context) error { return db.Close() })
	shutdown.Register("audit", func(ctx context.Context) error { return sink.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(ctx context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("tracing", func(ctx context.Context) error { return observability.ShutdownTracing(ctx, tp) })

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).WithField("version", version).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if fileSource != nil {
		g.Go(func() error {
			return fileSource.Watch(gctx)
		})
	}
	if local != nil {
		local.StartCleanup(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown()
	})

	return g.Wait()
}

func openAuditSink(db *sql.DB, path string) (audit.Logger, error) {
	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}
	if path == "" {
		return dbLogger, nil
	}
	fileLogger, err := audit.NewFileLogger(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return audit.NewMultiLogger(dbLogger, fileLogger), nil
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

// rateTableCheck degrades readiness while no rate range is loaded
func rateTableCheck(source rates.Source) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ranges, err := source.Ranges(ctx)
		if err != nil {
			return err
		}
		if len(ranges) == 0 {
			return errors.New("rate table is empty")
		}
		return nil
	}
}

func seedRateTable(ctx context.Context, store *sqlstore.Store, path string, logger *observability.Logger) error {
	if path == "" {
		return errors.New("ONCOPLUS_RATES_FILE is required with -seed-rates")
	}
	ranges, err := rates.LoadFile(path)
	if err != nil {
		return err
	}
	if err := store.ReplaceRateRanges(ctx, ranges); err != nil {
		return err
	}
	logger.WithField("path", path).WithField("ranges", len(ranges)).Info("Rate table seeded")
	return nil
}
