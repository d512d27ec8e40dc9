package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/schema"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Store backend configuration
	Store StoreConfig `yaml:"store"`

	// Engine configuration
	Engine EngineConfig `yaml:"engine"`

	// Encryption configuration
	Encryption EncryptionConfig `yaml:"encryption"`

	// Archive configuration
	Archive ArchiveConfig `yaml:"archive"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig selects and tunes the persistence backend
type StoreConfig struct {
	// Type is one of memory, file, sqlite, redis, postgres
	Type string `yaml:"type"`

	// MaxSizeBytes caps backends without a native quota (memory, sqlite)
	MaxSizeBytes int64 `yaml:"maxSizeBytes"`

	// File backend
	FileRoot string `yaml:"fileRoot"`

	// SQLite backend
	SQLitePath string `yaml:"sqlitePath"`

	// Redis backend
	RedisURL      string `yaml:"redisURL"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`

	// Postgres backend
	PostgresURL string `yaml:"postgresURL"`
}

// EngineConfig tunes the quota monitor, write queue, and load cache
type EngineConfig struct {
	QuotaFallbackLimit   int64         `yaml:"quotaFallbackLimit"`
	QuotaEstimateTTL     time.Duration `yaml:"quotaEstimateTTL"`
	QuotaReconcileMinGap time.Duration `yaml:"quotaReconcileMinGap"`
	QuotaDriftThreshold  int64         `yaml:"quotaDriftThreshold"`

	WriteMaxRetries int           `yaml:"writeMaxRetries"`
	WriteBaseDelay  time.Duration `yaml:"writeBaseDelay"`

	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`

	ReconcileSchedule string `yaml:"reconcileSchedule"`
}

// EncryptionConfig holds at-rest encryption settings
type EncryptionConfig struct {
	// KeyHex is a hex-encoded 32-byte AES key; empty disables encryption
	KeyHex string `yaml:"keyHex"`

	// SensitiveKeys lists storage keys that must be encrypted at rest
	SensitiveKeys []string `yaml:"sensitiveKeys"`
}

// ArchiveConfig holds S3 backup archival settings
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Schedule     string `yaml:"schedule"`
	S3Endpoint   string `yaml:"s3Endpoint"`
	S3Region     string `yaml:"s3Region"`
	S3Bucket     string `yaml:"s3Bucket"`
	S3AccessKey  string `yaml:"s3AccessKey"`
	S3SecretKey  string `yaml:"s3SecretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel     observability.LogLevel `yaml:"-"`
	LogLevelName string                 `yaml:"logLevel"`

	// Metrics
	MetricsEnabled bool `yaml:"metricsEnabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otelEnabled"`
	OTelEndpoint       string `yaml:"otelEndpoint"`
	OTelServiceName    string `yaml:"otelServiceName"`
	OTelServiceVersion string `yaml:"otelServiceVersion"`
	OTelInsecure       bool   `yaml:"otelInsecure"`
}

// LoadConfig loads configuration from an optional YAML file, then applies
// environment variable overrides. The file path comes from
// LEADSTORE_CONFIG_FILE.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := getEnv("LEADSTORE_CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Observability.LogLevelName != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Type:        "file",
			FileRoot:    "/var/lib/leadstore/data",
			SQLitePath:  "/var/lib/leadstore/leadstore.db",
			RedisPrefix: "leadstore",
		},
		Engine: EngineConfig{
			ReconcileSchedule: "@every 30s",
		},
		Encryption: EncryptionConfig{
			SensitiveKeys: []string{schema.KeyLeads, schema.BackupKey(schema.KeyLeads)},
		},
		Archive: ArchiveConfig{
			Schedule: "@every 1h",
			S3Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			LogLevelName:       "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "leadstore",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("LEADSTORE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("LEADSTORE_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("LEADSTORE_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("LEADSTORE_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("LEADSTORE_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("LEADSTORE_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Store.Type = getEnv("LEADSTORE_STORE_TYPE", cfg.Store.Type)
	cfg.Store.MaxSizeBytes = getEnvInt64("LEADSTORE_MAX_SIZE_BYTES", cfg.Store.MaxSizeBytes)
	cfg.Store.FileRoot = getEnv("LEADSTORE_FILE_ROOT", cfg.Store.FileRoot)
	cfg.Store.SQLitePath = getEnv("LEADSTORE_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.RedisURL = getEnv("LEADSTORE_REDIS_URL", cfg.Store.RedisURL)
	cfg.Store.RedisPassword = getEnv("LEADSTORE_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = getEnvInt("LEADSTORE_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.RedisPrefix = getEnv("LEADSTORE_REDIS_PREFIX", cfg.Store.RedisPrefix)
	cfg.Store.PostgresURL = getEnv("LEADSTORE_POSTGRES_URL", cfg.Store.PostgresURL)

	cfg.Engine.QuotaFallbackLimit = getEnvInt64("LEADSTORE_QUOTA_FALLBACK_LIMIT", cfg.Engine.QuotaFallbackLimit)
	cfg.Engine.QuotaEstimateTTL = getEnvDuration("LEADSTORE_QUOTA_ESTIMATE_TTL", cfg.Engine.QuotaEstimateTTL)
	cfg.Engine.QuotaReconcileMinGap = getEnvDuration("LEADSTORE_QUOTA_RECONCILE_MIN_GAP", cfg.Engine.QuotaReconcileMinGap)
	cfg.Engine.QuotaDriftThreshold = getEnvInt64("LEADSTORE_QUOTA_DRIFT_THRESHOLD", cfg.Engine.QuotaDriftThreshold)
	cfg.Engine.WriteMaxRetries = getEnvInt("LEADSTORE_WRITE_MAX_RETRIES", cfg.Engine.WriteMaxRetries)
	cfg.Engine.WriteBaseDelay = getEnvDuration("LEADSTORE_WRITE_BASE_DELAY", cfg.Engine.WriteBaseDelay)
	cfg.Engine.CacheSize = getEnvInt("LEADSTORE_CACHE_SIZE", cfg.Engine.CacheSize)
	cfg.Engine.CacheTTL = getEnvDuration("LEADSTORE_CACHE_TTL", cfg.Engine.CacheTTL)
	cfg.Engine.ReconcileSchedule = getEnv("LEADSTORE_RECONCILE_SCHEDULE", cfg.Engine.ReconcileSchedule)

	cfg.Encryption.KeyHex = getEnv("LEADSTORE_ENCRYPTION_KEY", cfg.Encryption.KeyHex)
	if keys := getEnv("LEADSTORE_SENSITIVE_KEYS", ""); keys != "" {
		cfg.Encryption.SensitiveKeys = splitList(keys)
	}

	if enabled := getEnv("LEADSTORE_ARCHIVE_ENABLED", ""); enabled != "" {
		cfg.Archive.Enabled = strings.ToLower(enabled) == "true"
	}
	cfg.Archive.Schedule = getEnv("LEADSTORE_ARCHIVE_SCHEDULE", cfg.Archive.Schedule)
	cfg.Archive.S3Endpoint = getEnv("LEADSTORE_S3_ENDPOINT", cfg.Archive.S3Endpoint)
	cfg.Archive.S3Region = getEnv("LEADSTORE_S3_REGION", cfg.Archive.S3Region)
	cfg.Archive.S3Bucket = getEnv("LEADSTORE_S3_BUCKET", cfg.Archive.S3Bucket)
	cfg.Archive.S3AccessKey = getEnv("LEADSTORE_S3_ACCESS_KEY", cfg.Archive.S3AccessKey)
	cfg.Archive.S3SecretKey = getEnv("LEADSTORE_S3_SECRET_KEY", cfg.Archive.S3SecretKey)
	if pathStyle := getEnv("LEADSTORE_S3_USE_PATH_STYLE", ""); pathStyle != "" {
		cfg.Archive.UsePathStyle = strings.ToLower(pathStyle) == "true"
	}

	cfg.Observability.LogLevelName = getEnv("LEADSTORE_LOG_LEVEL", cfg.Observability.LogLevelName)
	cfg.Observability.MetricsEnabled = getEnvBool("LEADSTORE_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("LEADSTORE_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("LEADSTORE_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("LEADSTORE_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("LEADSTORE_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("LEADSTORE_OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// EncryptionKey decodes the configured hex key. Returns nil when encryption
// is not configured.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Encryption.KeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Encryption.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Type {
	case "memory":
	case "file":
		if c.Store.FileRoot == "" {
			return fmt.Errorf("file root is required for file storage")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, file, sqlite, redis, or postgres)", c.Store.Type)
	}

	if _, err := c.EncryptionKey(); err != nil {
		return err
	}

	if c.Archive.Enabled {
		if c.Archive.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required when archival is enabled")
		}
	}

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

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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
