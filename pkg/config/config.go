package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/dataroom/pkg/audit"
	"github.com/platinummonkey/dataroom/pkg/database"
	"github.com/platinummonkey/dataroom/pkg/observability"
	"github.com/platinummonkey/dataroom/pkg/permissions"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database database.ConnectionConfig

	// Redis backs the shared permission cache tier
	Redis database.RedisConfig

	// Permission resolution cache
	Cache CacheConfig

	// Audit trail configuration
	Audit AuditConfig

	// Suspicious activity monitoring
	Monitoring MonitoringConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// CacheConfig controls the permission cache
type CacheConfig struct {
	Enabled bool
	permissions.CacheConfig
}

// AuditConfig controls the chain writer and its scheduled jobs
type AuditConfig struct {
	QueueSize     int
	AppendTimeout time.Duration

	// VerifySchedule is a cron expression; empty disables scheduled
	// verification
	VerifySchedule string
	// VerifyInterval is the minimum time between chain replays requested
	// over HTTP; requests inside it get the previous result
	VerifyInterval time.Duration

	ArchiveEnabled  bool
	ArchiveSchedule string
	// ArchiveWindow is how far back each archive run reaches
	ArchiveWindow time.Duration
	Archive       audit.ArchiveConfig
}

// MonitoringConfig locates the optional rules file
type MonitoringConfig struct {
	RulesFile    string
	WatchRules   bool
	CheckTimeout time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Monitoring:    loadMonitoringConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("DATAROOM_HOST", "0.0.0.0"),
		Port:            getEnv("DATAROOM_PORT", "8080"),
		ReadTimeout:     getEnvDuration("DATAROOM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("DATAROOM_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("DATAROOM_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("DATAROOM_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("DATAROOM_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("DATAROOM_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() database.ConnectionConfig {
	return database.ConnectionConfig{
		URL:         getEnv("DATAROOM_POSTGRES_URL", ""),
		MaxConns:    getEnvInt("DATAROOM_POSTGRES_MAX_CONNS", 20),
		MinConns:    getEnvInt("DATAROOM_POSTGRES_MIN_CONNS", 2),
		Timeout:     getEnvDuration("DATAROOM_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("DATAROOM_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("DATAROOM_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() database.RedisConfig {
	return database.RedisConfig{
		URL:        getEnv("DATAROOM_REDIS_URL", ""),
		Password:   getEnv("DATAROOM_REDIS_PASSWORD", ""),
		DB:         getEnvInt("DATAROOM_REDIS_DB", 0),
		MaxRetries: getEnvInt("DATAROOM_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("DATAROOM_REDIS_POOL_SIZE", 10),
	}
}

// loadCacheConfig loads permission cache configuration from environment
func loadCacheConfig() CacheConfig {
	defaults := permissions.DefaultCacheConfig()
	return CacheConfig{
		Enabled: getEnvBool("DATAROOM_CACHE_ENABLED", true),
		CacheConfig: permissions.CacheConfig{
			Size: getEnvInt("DATAROOM_CACHE_SIZE", defaults.Size),
			TTL:  getEnvDuration("DATAROOM_CACHE_TTL", defaults.TTL),
		},
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		QueueSize:       getEnvInt("DATAROOM_AUDIT_QUEUE_SIZE", 256),
		AppendTimeout:   getEnvDuration("DATAROOM_AUDIT_APPEND_TIMEOUT", 10*time.Second),
		VerifySchedule:  getEnv("DATAROOM_AUDIT_VERIFY_SCHEDULE", "0 3 * * *"),
		VerifyInterval:  getEnvDuration("DATAROOM_AUDIT_VERIFY_INTERVAL", audit.DefaultVerifyInterval),
		ArchiveEnabled:  getEnvBool("DATAROOM_AUDIT_ARCHIVE_ENABLED", false),
		ArchiveSchedule: getEnv("DATAROOM_AUDIT_ARCHIVE_SCHEDULE", "30 0 * * *"),
		ArchiveWindow:   getEnvDuration("DATAROOM_AUDIT_ARCHIVE_WINDOW", 24*time.Hour),
		Archive: audit.ArchiveConfig{
			Endpoint:     getEnv("DATAROOM_S3_ENDPOINT", ""),
			Region:       getEnv("DATAROOM_S3_REGION", "us-east-1"),
			Bucket:       getEnv("DATAROOM_S3_BUCKET", ""),
			Prefix:       getEnv("DATAROOM_S3_PREFIX", "audit"),
			AccessKey:    getEnv("DATAROOM_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("DATAROOM_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("DATAROOM_S3_USE_PATH_STYLE", false),
		},
	}
}

// loadMonitoringConfig loads monitoring configuration from environment
func loadMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		RulesFile:    getEnv("DATAROOM_MONITORING_RULES", ""),
		WatchRules:   getEnvBool("DATAROOM_MONITORING_WATCH", true),
		CheckTimeout: getEnvDuration("DATAROOM_MONITORING_CHECK_TIMEOUT", 10*time.Second),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("DATAROOM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("DATAROOM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DATAROOM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DATAROOM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DATAROOM_OTEL_SERVICE_NAME", "dataroom"),
		OTelServiceVersion: getEnv("DATAROOM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("DATAROOM_OTEL_INSECURE", true),
	}
}

// OTel returns the tracing settings in the form observability.InitOTel takes
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}

	if c.Audit.QueueSize < 0 {
		return fmt.Errorf("audit queue size must not be negative")
	}
	if c.Audit.VerifyInterval < 0 {
		return fmt.Errorf("audit verify interval must not be negative")
	}
	if c.Audit.VerifySchedule != "" {
		if _, err := cron.ParseStandard(c.Audit.VerifySchedule); err != nil {
			return fmt.Errorf("invalid audit verify schedule: %w", err)
		}
	}
	if c.Audit.ArchiveEnabled {
		if c.Audit.Archive.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when audit archival is enabled")
		}
		if c.Audit.ArchiveWindow <= 0 {
			return fmt.Errorf("audit archive window must be positive")
		}
		if _, err := cron.ParseStandard(c.Audit.ArchiveSchedule); err != nil {
			return fmt.Errorf("invalid audit archive schedule: %w", err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
