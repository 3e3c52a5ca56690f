// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger indexing API (Etherscan-compatible)
	EtherscanAPIURL string
	EtherscanAPIKey string
	EtherscanPace   time.Duration // minimum spacing between API calls
	FetchRetries    int

	// Scoring pipeline
	FetchConcurrency int // parallel wallet fetches per run
	MaxBatchSize     int // max wallets per scoring run

	// Observability
	RateLimitRPM int    // API requests per minute per client
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)
}

// Defaults for local development against the public Etherscan API.
const (
	DefaultEtherscanURL     = "https://api.etherscan.io/api"
	DefaultEtherscanPace    = 200 * time.Millisecond
	DefaultFetchRetries     = 3
	DefaultFetchConcurrency = 4
	DefaultMaxBatchSize     = 500
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultRateLimit        = 60
)

// Load reads configuration from environment variables.
// It loads a .env file first if one is present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		EtherscanAPIURL:  getEnv("ETHERSCAN_API_URL", DefaultEtherscanURL),
		EtherscanAPIKey:  os.Getenv("ETHERSCAN_API_KEY"), // Required, no default
		EtherscanPace:    getEnvDuration("ETHERSCAN_PACE", DefaultEtherscanPace),
		FetchRetries:     getEnvInt("FETCH_RETRIES", DefaultFetchRetries),
		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", DefaultFetchConcurrency),
		MaxBatchSize:     getEnvInt("MAX_BATCH_SIZE", DefaultMaxBatchSize),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.EtherscanAPIKey == "" {
		return fmt.Errorf("ETHERSCAN_API_KEY is required")
	}
	if c.EtherscanAPIURL == "" {
		return fmt.Errorf("ETHERSCAN_API_URL must not be empty")
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be at least 1")
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be at least 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
