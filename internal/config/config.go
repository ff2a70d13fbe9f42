// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir string // Directory for the sqlite databases (always absolute)
	Port    int

	LogLevel      string
	LogPretty     bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	Exchange  ExchangeConfig
	Scheduler SchedulerConfig
	History   HistoryConfig
	Backup    *BackupConfig

	BaseCurrency      string
	EstimatedFeeRate  float64 // Fraction of order value, used when the exchange does not report a fee
	PortfolioSeedFile string  // Optional YAML file with portfolios to import at startup
}

// ExchangeConfig holds exchange gateway settings
type ExchangeConfig struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	Timeout     time.Duration // Per gateway call
	MaxAttempts int           // Attempts for transient failures
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// SchedulerConfig holds portfolio scheduler settings
type SchedulerConfig struct {
	Enabled      bool
	TickInterval time.Duration // Reconciliation interval
}

// HistoryConfig holds rebalance history settings
type HistoryConfig struct {
	RecordPreviews bool
	RetentionDays  int // 0 keeps history forever
}

// BackupConfig holds S3-compatible backup settings (Cloudflare R2, AWS S3)
type BackupConfig struct {
	Enabled         bool
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	Schedule        string // Cron expression for the maintenance runner
	RetentionDays   int    // Older archives are rotated out; the newest three are always kept
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("REBALANCER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Port:      getEnvAsInt("PORT", 8080),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		LogFile:   getEnv("LOG_FILE", ""),

		LogMaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),

		Exchange: ExchangeConfig{
			APIKey:      getEnv("KRAKEN_API_KEY", ""),
			APISecret:   getEnv("KRAKEN_API_SECRET", ""),
			BaseURL:     getEnv("KRAKEN_BASE_URL", "https://api.kraken.com"),
			Timeout:     getEnvAsDuration("GATEWAY_TIMEOUT", 20*time.Second),
			MaxAttempts: getEnvAsInt("GATEWAY_MAX_ATTEMPTS", 3),
			BackoffBase: getEnvAsDuration("GATEWAY_BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:  getEnvAsDuration("GATEWAY_BACKOFF_MAX", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:      getEnvAsBool("SCHEDULER_ENABLED", true),
			TickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
		},
		History: HistoryConfig{
			RecordPreviews: getEnvAsBool("HISTORY_RECORD_PREVIEWS", false),
			RetentionDays:  getEnvAsInt("HISTORY_RETENTION_DAYS", 365),
		},
		Backup:            loadBackupConfig(),
		BaseCurrency:      strings.ToUpper(getEnv("BASE_CURRENCY", "EUR")),
		EstimatedFeeRate:  getEnvAsFloat("ESTIMATED_FEE_RATE", 0.0026),
		PortfolioSeedFile: getEnv("PORTFOLIO_SEED_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BaseCurrency == "" {
		return fmt.Errorf("base currency is required")
	}
	if c.EstimatedFeeRate < 0 || c.EstimatedFeeRate >= 1 {
		return fmt.Errorf("estimated fee rate must be in [0, 1), got %v", c.EstimatedFeeRate)
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	if c.Exchange.MaxAttempts < 1 {
		return fmt.Errorf("gateway max attempts must be at least 1, got %d", c.Exchange.MaxAttempts)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history retention days cannot be negative")
	}
	if c.Backup != nil && c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but BACKUP_BUCKET is empty")
	}

	// Credentials are optional: previews of empty portfolios and the API still work,
	// and the gateway reports CredentialsNotConfigured on private calls.
	return nil
}

// HasExchangeCredentials reports whether both API key and secret are set
func (c *Config) HasExchangeCredentials() bool {
	return c.Exchange.APIKey != "" && c.Exchange.APISecret != ""
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "rebalancer"),
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
