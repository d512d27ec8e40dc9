// Package config provides application configuration management from an
// optional YAML file plus environment variable overrides.
//
// # Configuration Structure
//
// Server settings:
//
//	LEADSTORE_HOST="0.0.0.0"
//	LEADSTORE_PORT="8080"
//	LEADSTORE_READ_TIMEOUT="15s"
//	LEADSTORE_WRITE_TIMEOUT="15s"
//	LEADSTORE_SHUTDOWN_TIMEOUT="30s"
//
// Store settings:
//
//	LEADSTORE_STORE_TYPE="file"  # memory, file, sqlite, redis, postgres
//	LEADSTORE_FILE_ROOT="/var/lib/leadstore/data"
//	LEADSTORE_SQLITE_PATH="/var/lib/leadstore/leadstore.db"
//	LEADSTORE_REDIS_URL="redis://localhost:6379"
//	LEADSTORE_POSTGRES_URL="postgres://localhost/leadstore"
//	LEADSTORE_MAX_SIZE_BYTES="5242880"
//
// Encryption settings:
//
//	LEADSTORE_ENCRYPTION_KEY="<64 hex chars>"
//	LEADSTORE_SENSITIVE_KEYS="leads,leads_backup"
//
// Observability settings:
//
//	LEADSTORE_LOG_LEVEL="info"  # debug, info, warn, error
//	LEADSTORE_METRICS_ENABLED="true"
//	LEADSTORE_OTEL_ENABLED="true"
//	LEADSTORE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Store: %s\n", cfg.Store.Type)
//
// A YAML file named by LEADSTORE_CONFIG_FILE is loaded first; environment
// variables always win.
package config
