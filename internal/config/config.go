package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Port     string
	Database DatabaseConfig
	Sync     SyncDefaults
	Scan     ScanConfig
	Queue    QueueConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// SyncDefaults seeds the sync_config row on a fresh install.
// Runtime changes go through PUT /settings and live in the database.
type SyncDefaults struct {
	ServerURL       string
	APIKey          string
	AutoSync        bool
	IntervalSeconds int
	ConflictPolicy  string
	RequestTimeout  int // seconds, per outbound call
	BatchSize       int
}

// ScanConfig holds scan and file watch configuration
type ScanConfig struct {
	WatchPaths   []string
	CacheTTLHour int
}

// QueueConfig holds work queue configuration
type QueueConfig struct {
	Workers  int
	MaxDepth int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "4201"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "mclocal"),
		},
		Sync: SyncDefaults{
			ServerURL:       getEnv("HUB_SERVER_URL", "http://localhost:8001"),
			APIKey:          os.Getenv("HUB_API_KEY"),
			AutoSync:        getEnv("AUTO_SYNC", "false") == "true",
			IntervalSeconds: getEnvInt("SYNC_INTERVAL", 300),
			ConflictPolicy:  getEnv("CONFLICT_POLICY", "client_wins"),
			RequestTimeout:  getEnvInt("SYNC_TIMEOUT", 30),
			BatchSize:       getEnvInt("SYNC_BATCH_SIZE", 100),
		},
		Scan: ScanConfig{
			WatchPaths:   filepath.SplitList(os.Getenv("WATCH_PATHS")),
			CacheTTLHour: getEnvInt("SCAN_CACHE_TTL_HOURS", 24),
		},
		Queue: QueueConfig{
			Workers:  getEnvInt("QUEUE_WORKERS", 4),
			MaxDepth: getEnvInt("QUEUE_MAX_DEPTH", 10000),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
