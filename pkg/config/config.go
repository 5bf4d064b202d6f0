package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/oncoplus/pkg/billing"
	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/intake"
	"github.com/platinummonkey/oncoplus/pkg/lock"
	"github.com/platinummonkey/oncoplus/pkg/middleware"
	"github.com/platinummonkey/oncoplus/pkg/notifications"
	"github.com/platinummonkey/oncoplus/pkg/observability"
	"github.com/platinummonkey/oncoplus/pkg/processor"
	"github.com/platinummonkey/oncoplus/pkg/roster"
	"github.com/platinummonkey/oncoplus/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      storage.Config
	Redis         RedisConfig
	Processor     ProcessorConfig
	Enrollment    EnrollmentConfig
	Notifications NotificationsConfig
	Export        ExportConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string

	// RateLimit applies to the submission route. Nil disables limiting.
	RateLimit *middleware.RateLimitConfig
}

// RedisConfig enables the distributed reconciliation lock and rate limiter
type RedisConfig struct {
	Enabled bool
	lock.RedisConfig
}

// ProcessorConfig holds payment processor settings
type ProcessorConfig struct {
	processor.Config
	// CallbackBaseURL is the public URL of the payer return page
	CallbackBaseURL string
	Currency        string
	StartDelay      time.Duration
	Reason          string
	DedupSize       int
	DedupTTL        time.Duration
}

// Gateway returns the subscription gateway settings
func (p ProcessorConfig) Gateway() billing.GatewayConfig {
	return billing.GatewayConfig{
		CallbackURL: p.CallbackBaseURL,
		Currency:    p.Currency,
		StartDelay:  p.StartDelay,
		Reason:      p.Reason,
	}
}

// Reconciler returns the webhook dedup settings
func (p ProcessorConfig) Reconciler() billing.ReconcilerConfig {
	return billing.ReconcilerConfig{
		DedupSize: p.DedupSize,
		DedupTTL:  p.DedupTTL,
	}
}

// EnrollmentConfig holds intake rules
type EnrollmentConfig struct {
	DuplicatePolicy intake.DuplicatePolicy
	MaxDependents   int
	WaitingMonths   int
	// RatesFile is a YAML rate table. Empty means the table stored in the database.
	RatesFile string
}

// NotificationsConfig holds outbound notice channels. A channel without a
// host or URL is disabled.
type NotificationsConfig struct {
	SMTP    notifications.SMTPConfig
	Webhook notifications.WebhookConfig
}

// ExportConfig holds the worker schedules and roster destination
type ExportConfig struct {
	S3               roster.S3Config
	Prefix           string
	Company          roster.Company
	RosterSchedule   string
	FollowUpSchedule string
	FollowUpMaxAge   time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
	AuditLogFile   string
	Tracing        observability.TracingConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	enrollmentCfg, err := loadEnrollmentConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Processor:     loadProcessorConfig(),
		Enrollment:    enrollmentCfg,
		Notifications: loadNotificationsConfig(),
		Export:        loadExportConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Host:            getEnv("ONCOPLUS_HOST", "0.0.0.0"),
		Port:            getEnv("ONCOPLUS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ONCOPLUS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ONCOPLUS_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("ONCOPLUS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ONCOPLUS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("ONCOPLUS_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("ONCOPLUS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if getEnvBool("ONCOPLUS_RATE_LIMIT_ENABLED", true) {
		limit := middleware.DefaultRateLimitConfig()
		limit.RequestsPerWindow = getEnvInt("ONCOPLUS_RATE_LIMIT_REQUESTS", limit.RequestsPerWindow)
		limit.WindowDuration = getEnvDuration("ONCOPLUS_RATE_LIMIT_WINDOW", limit.WindowDuration)
		limit.BurstSize = getEnvInt("ONCOPLUS_RATE_LIMIT_BURST", limit.BurstSize)
		cfg.RateLimit = limit
	}
	return cfg
}

func loadDatabaseConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if driver := getEnv("ONCOPLUS_DB_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	cfg.URL = getEnv("ONCOPLUS_DB_URL", "")
	if maxConns := getEnvInt("ONCOPLUS_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("ONCOPLUS_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("ONCOPLUS_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if lifetime := getEnvDuration("ONCOPLUS_DB_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.MaxLifetime = lifetime
	}

	return cfg
}

func loadRedisConfig() RedisConfig {
	url := getEnv("ONCOPLUS_REDIS_URL", "")
	return RedisConfig{
		Enabled: url != "",
		RedisConfig: lock.RedisConfig{
			URL:        url,
			Password:   getEnv("ONCOPLUS_REDIS_PASSWORD", ""),
			DB:         getEnvInt("ONCOPLUS_REDIS_DB", 0),
			MaxRetries: getEnvInt("ONCOPLUS_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("ONCOPLUS_REDIS_POOL_SIZE", 10),
		},
	}
}

func loadProcessorConfig() ProcessorConfig {
	dedup := billing.DefaultReconcilerConfig()
	return ProcessorConfig{
		Config: processor.Config{
			BaseURL:     getEnv("ONCOPLUS_MP_BASE_URL", processor.DefaultBaseURL),
			AccessToken: getEnv("ONCOPLUS_MP_ACCESS_TOKEN", ""),
			Timeout:     getEnvDuration("ONCOPLUS_MP_TIMEOUT", 15*time.Second),
		},
		CallbackBaseURL: getEnv("ONCOPLUS_MP_CALLBACK_URL", ""),
		Currency:        getEnv("ONCOPLUS_MP_CURRENCY", "PEN"),
		StartDelay:      getEnvDuration("ONCOPLUS_MP_START_DELAY", 5*time.Minute),
		Reason:          getEnv("ONCOPLUS_MP_REASON", "Afiliación Oncosalud Plus"),
		DedupSize:       getEnvInt("ONCOPLUS_WEBHOOK_DEDUP_SIZE", dedup.DedupSize),
		DedupTTL:        getEnvDuration("ONCOPLUS_WEBHOOK_DEDUP_TTL", dedup.DedupTTL),
	}
}

func loadEnrollmentConfig() (EnrollmentConfig, error) {
	policy, err := intake.ParseDuplicatePolicy(getEnv("ONCOPLUS_DUPLICATE_POLICY", ""))
	if err != nil {
		return EnrollmentConfig{}, err
	}
	return EnrollmentConfig{
		DuplicatePolicy: policy,
		MaxDependents:   getEnvInt("ONCOPLUS_MAX_DEPENDENTS", enrollment.MaxDependents),
		WaitingMonths:   getEnvInt("ONCOPLUS_WAITING_MONTHS", 3),
		RatesFile:       getEnv("ONCOPLUS_RATES_FILE", ""),
	}, nil
}

func loadNotificationsConfig() NotificationsConfig {
	retry := notifications.DefaultRetryConfig()
	retry.MaxAttempts = getEnvInt("ONCOPLUS_NOTIFY_WEBHOOK_MAX_ATTEMPTS", retry.MaxAttempts)

	return NotificationsConfig{
		SMTP: notifications.SMTPConfig{
			Host:     getEnv("ONCOPLUS_SMTP_HOST", ""),
			Port:     getEnvInt("ONCOPLUS_SMTP_PORT", 587),
			Username: getEnv("ONCOPLUS_SMTP_USERNAME", ""),
			Password: getEnv("ONCOPLUS_SMTP_PASSWORD", ""),
			From:     getEnv("ONCOPLUS_SMTP_FROM", ""),
		},
		Webhook: notifications.WebhookConfig{
			URL:     getEnv("ONCOPLUS_NOTIFY_WEBHOOK_URL", ""),
			Secret:  getEnv("ONCOPLUS_NOTIFY_WEBHOOK_SECRET", ""),
			Timeout: getEnvDuration("ONCOPLUS_NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),
			Retry:   retry,
		},
	}
}

func loadExportConfig() ExportConfig {
	return ExportConfig{
		S3: roster.S3Config{
			Bucket:       getEnv("ONCOPLUS_S3_BUCKET", ""),
			Region:       getEnv("ONCOPLUS_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("ONCOPLUS_S3_ENDPOINT", ""),
			AccessKey:    getEnv("ONCOPLUS_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("ONCOPLUS_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("ONCOPLUS_S3_USE_PATH_STYLE", false),
			CreateBucket: getEnvBool("ONCOPLUS_S3_CREATE_BUCKET", false),
		},
		Prefix:           getEnv("ONCOPLUS_EXPORT_PREFIX", "trama"),
		Company: roster.Company{
			Address:      getEnv("ONCOPLUS_EXPORT_COMPANY_ADDRESS", ""),
			ContactEmail: getEnv("ONCOPLUS_EXPORT_COMPANY_EMAIL", ""),
		},
		RosterSchedule:   getEnv("ONCOPLUS_ROSTER_SCHEDULE", "0 2 * * *"),
		FollowUpSchedule: getEnv("ONCOPLUS_FOLLOWUP_SCHEDULE", "*/30 * * * *"),
		FollowUpMaxAge:   getEnvDuration("ONCOPLUS_FOLLOWUP_MAX_AGE", 24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("ONCOPLUS_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("ONCOPLUS_METRICS_ENABLED", true),
		AuditLogFile:   getEnv("ONCOPLUS_AUDIT_LOG_FILE", ""),
		Tracing: observability.TracingConfig{
			Enabled:        getEnvBool("ONCOPLUS_OTEL_ENABLED", false),
			Endpoint:       getEnv("ONCOPLUS_OTEL_ENDPOINT", "localhost:4317"),
			ServiceName:    getEnv("ONCOPLUS_OTEL_SERVICE_NAME", "oncoplus"),
			ServiceVersion: getEnv("ONCOPLUS_OTEL_SERVICE_VERSION", "1.0.0"),
			Insecure:       getEnvBool("ONCOPLUS_OTEL_INSECURE", true),
			SampleRatio:    getEnvFloat("ONCOPLUS_OTEL_SAMPLE_RATIO", 1.0),
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if rl := c.Server.RateLimit; rl != nil && (rl.RequestsPerWindow <= 0 || rl.WindowDuration <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Processor.AccessToken != "" && c.Processor.CallbackBaseURL == "" {
		return fmt.Errorf("processor callback URL is required when an access token is set")
	}

	if c.Enrollment.MaxDependents < 0 {
		return fmt.Errorf("max dependents must not be negative")
	}
	if c.Enrollment.WaitingMonths < 0 {
		return fmt.Errorf("waiting months must not be negative")
	}

	if c.Notifications.SMTP.Host != "" && c.Notifications.SMTP.From == "" {
		return fmt.Errorf("SMTP sender address is required when SMTP is enabled")
	}
	if c.Notifications.Webhook.URL != "" && c.Notifications.Webhook.Secret == "" {
		return fmt.Errorf("notification webhook secret is required when the webhook is enabled")
	}

	if c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.Tracing.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ValidateWorker checks the settings only the worker needs
func (c *Config) ValidateWorker() error {
	if c.Export.S3.Bucket == "" {
		return fmt.Errorf("S3 bucket is required for the roster export")
	}
	if c.Export.RosterSchedule == "" && c.Export.FollowUpSchedule == "" {
		return fmt.Errorf("at least one worker schedule is required")
	}
	if c.Export.FollowUpMaxAge <= 0 {
		return fmt.Errorf("follow-up max age must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
