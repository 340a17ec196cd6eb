package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Every environment variable is read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// External market data source
	Fetch FetchConfig

	// Audit thresholds
	Audit AuditConfig

	// Index construction
	Index IndexConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// FetchConfig holds tunables for the external price source.
// The source is rate-limited, so every knob here exists to keep the
// batch pipeline under its ceiling.
type FetchConfig struct {
	BaseURL        string
	BenchmarkSym   string
	MaxBatch       int           // tickers per request batch
	Sleep          time.Duration // minimum inter-request delay
	AdaptiveSlow   time.Duration // delay while the source is pushing back
	MaxRetries     int
	InitialDelay   time.Duration // first retry delay; doubles per attempt
	MaxDelay       time.Duration
	PeriodDays     int // initial backfill window when the store is empty
	Concurrency    int // parallel workers for per-ticker stages
	RequestTimeout time.Duration
}

// AuditConfig holds staleness and tolerance thresholds for the consistency audit.
type AuditConfig struct {
	PricesMaxLagDays  int
	SignalsMaxLagDays int
	WeightTolerance   float64
}

// IndexConfig holds index construction defaults.
type IndexConfig struct {
	BaseLevel float64 // level seeded for the first history point of an index
}

// Load reads configuration from environment variables.
// This is the only function that calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Fetch: FetchConfig{
			BaseURL:        getEnv("FETCH_BASE_URL", "https://stooq.com/q/d/l"),
			BenchmarkSym:   getEnv("FETCH_BENCHMARK", "SPY"),
			MaxBatch:       getEnvAsInt("FETCH_MAX_BATCH", 25),
			Sleep:          getEnvAsDuration("FETCH_SLEEP", "1500ms"),
			AdaptiveSlow:   getEnvAsDuration("FETCH_ADAPTIVE_SLOW", "6s"),
			MaxRetries:     getEnvAsInt("FETCH_MAX_RETRIES", 6),
			InitialDelay:   getEnvAsDuration("FETCH_INITIAL_DELAY", "1s"),
			MaxDelay:       getEnvAsDuration("FETCH_MAX_DELAY", "30s"),
			PeriodDays:     getEnvAsInt("FETCH_PERIOD_DAYS", 365),
			Concurrency:    getEnvAsInt("FETCH_CONCURRENCY", 4),
			RequestTimeout: getEnvAsDuration("FETCH_REQUEST_TIMEOUT", "30s"),
		},

		Audit: AuditConfig{
			PricesMaxLagDays:  getEnvAsInt("AUDIT_PRICES_MAX_LAG_DAYS", 5),
			SignalsMaxLagDays: getEnvAsInt("AUDIT_SIGNALS_MAX_LAG_DAYS", 7),
			WeightTolerance:   getEnvAsFloat("AUDIT_WEIGHT_TOLERANCE", 0.02),
		},

		Index: IndexConfig{
			BaseLevel: getEnvAsFloat("INDEX_BASE_LEVEL", 1000.0),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Audit.WeightTolerance <= 0 {
		return fmt.Errorf("AUDIT_WEIGHT_TOLERANCE must be positive")
	}

	return nil
}

// loadEnvFile tries to load .env from a few likely locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
