// Package config loads process configuration from the environment using a
// getEnv/getEnvInt pattern: every field has a sane default and the process
// never refuses to start for a missing optional store URL.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the qualification engine needs to run a batch.
type Config struct {
	Environment string

	// Postgres backs the blocklist and metadata stores.
	DatabaseURL string

	// MongoDB archives raw structured records and per-run summaries.
	// Archival is skipped entirely when unset.
	MongoDBURL  string
	MongoDBName string

	// Redis backs the processing cache's O(1) address-seen set.
	RedisURL string

	// Neo4j mirrors the metadata store's relations for search_by.
	// Optional: when unset, search_by returns a NOT_FOUND error.
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string

	// Pipeline concurrency.
	ReaderPoolSize int
	WorkerPoolSize int
	WriterPoolSize int
	QueueSize      int

	// Circuit breaker tuning, shared across store adapters.
	BreakerConsecutiveFailures int
	BreakerOpenTimeout         time.Duration
	BreakerResetInterval       time.Duration

	// FilterConfigPath points at the YAML Smart Filter configuration.
	FilterConfigPath string

	// CacheDir is loaded from CACHE_DIR. No component reads it: the
	// processing cache keeps its state in Postgres/Redis or in process memory.
	CacheDir string

	// OutputDir is where categorized result files are written atomically.
	OutputDir string

	LogLevel string
}

// Load reads Config from the environment. It never errors: every field falls
// back to a default suitable for a single-machine run against local stores.
func Load() (*Config, error) {
	return &Config{
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "qualify"),

		RedisURL: getEnv("REDIS_URL", ""),

		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		ReaderPoolSize: getEnvInt("READER_POOL_SIZE", 4),
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 8),
		WriterPoolSize: getEnvInt("WRITER_POOL_SIZE", 2),
		QueueSize:      getEnvInt("QUEUE_SIZE", 1000),

		BreakerConsecutiveFailures: getEnvInt("BREAKER_CONSECUTIVE_FAILURES", 5),
		BreakerOpenTimeout:         time.Duration(getEnvInt("BREAKER_OPEN_TIMEOUT_SEC", 30)) * time.Second,
		BreakerResetInterval:       time.Duration(getEnvInt("BREAKER_RESET_INTERVAL_SEC", 60)) * time.Second,

		FilterConfigPath: getEnv("FILTER_CONFIG_PATH", "filter_config.yaml"),
		CacheDir:         getEnv("CACHE_DIR", ".qualify-cache"),
		OutputDir:        getEnv("OUTPUT_DIR", "output"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
