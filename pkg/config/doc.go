// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings except the database URL.
//
// # Configuration Structure
//
// Server settings:
//
//	DATAROOM_HOST="0.0.0.0"
//	DATAROOM_PORT="8080"
//	DATAROOM_HEALTH_PORT="9090"
//	DATAROOM_READ_TIMEOUT="15s"
//	DATAROOM_WRITE_TIMEOUT="60s"
//
// Database settings:
//
//	DATAROOM_POSTGRES_URL="postgres://localhost/dataroom?sslmode=disable"
//	DATAROOM_POSTGRES_MAX_CONNS="20"
//
// Permission cache settings:
//
//	DATAROOM_CACHE_ENABLED="true"
//	DATAROOM_CACHE_SIZE="10000"
//	DATAROOM_CACHE_TTL="5m"
//	DATAROOM_REDIS_URL="redis://localhost:6379"  # optional shared tier
//
// Audit settings:
//
//	DATAROOM_AUDIT_QUEUE_SIZE="256"
//	DATAROOM_AUDIT_VERIFY_SCHEDULE="0 3 * * *"  # empty disables
//	DATAROOM_AUDIT_ARCHIVE_ENABLED="true"
//	DATAROOM_AUDIT_ARCHIVE_WINDOW="24h"
//	DATAROOM_S3_BUCKET="dataroom-audit"
//	DATAROOM_S3_REGION="us-east-1"
//
// Monitoring settings:
//
//	DATAROOM_MONITORING_RULES="/etc/dataroom/rules.yaml"
//	DATAROOM_MONITORING_WATCH="true"
//
// Observability settings:
//
//	DATAROOM_LOG_LEVEL="info"  # debug, info, warn, error
//	DATAROOM_METRICS_ENABLED="true"
//	DATAROOM_OTEL_ENABLED="true"
//	DATAROOM_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/database: Uses database and Redis configuration
//   - pkg/audit: Uses archive configuration
//   - pkg/observability: Uses observability configuration
package config
