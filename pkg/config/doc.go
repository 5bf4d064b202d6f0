// Package config loads and validates configuration from ONCOPLUS_ environment
// variables, with defaults for everything except the database URL.
//
// Server:
//
//	ONCOPLUS_PORT="8080"
//	ONCOPLUS_ALLOWED_ORIGINS="https://afiliacion.example"
//	ONCOPLUS_RATE_LIMIT_ENABLED="true"
//	ONCOPLUS_RATE_LIMIT_REQUESTS="20"
//
// Database and Redis:
//
//	ONCOPLUS_DB_DRIVER="postgres"  # postgres, sqlite3
//	ONCOPLUS_DB_URL="postgres://localhost/oncoplus"
//	ONCOPLUS_REDIS_URL="redis://localhost:6379/0"  # enables the distributed lock
//
// Payment processor:
//
//	ONCOPLUS_MP_ACCESS_TOKEN="APP_USR-..."
//	ONCOPLUS_MP_CALLBACK_URL="https://afiliacion.example/gracias"
//	ONCOPLUS_MP_CURRENCY="PEN"
//
// Enrollment:
//
//	ONCOPLUS_DUPLICATE_POLICY="warn"  # allow, warn, reject
//	ONCOPLUS_MAX_DEPENDENTS="10"
//	ONCOPLUS_WAITING_MONTHS="3"
//	ONCOPLUS_RATES_FILE="/etc/oncoplus/rates.yaml"
//
// Notifications:
//
//	ONCOPLUS_SMTP_HOST="smtp.example"
//	ONCOPLUS_SMTP_FROM="afiliaciones@example.com"
//	ONCOPLUS_NOTIFY_WEBHOOK_URL="https://crm.example/hooks/oncoplus"
//	ONCOPLUS_NOTIFY_WEBHOOK_SECRET="..."
//
// Worker:
//
//	ONCOPLUS_S3_BUCKET="tramas"
//	ONCOPLUS_ROSTER_SCHEDULE="0 2 * * *"
//	ONCOPLUS_FOLLOWUP_SCHEDULE="*/30 * * * *"
//	ONCOPLUS_FOLLOWUP_MAX_AGE="24h"
//
// Observability:
//
//	ONCOPLUS_LOG_LEVEL="info"  # debug, info, warn, error
//	ONCOPLUS_OTEL_ENABLED="true"
//	ONCOPLUS_OTEL_ENDPOINT="otel-collector:4317"
package config
