package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all runtime configuration, loaded from the environment with
// an optional .env file for local development.
type Config struct {
	// Server
	Port     string
	LogLevel logrus.Level

	// Storage
	DBPath     string
	JournalDir string

	// Expiration sweeper
	SweepInterval time.Duration

	// Market data (Alpaca)
	QuoteAPIKey    string
	QuoteAPISecret string
	QuoteBaseURL   string
	QuoteTimeout   time.Duration
	QuoteCacheTTL  time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error; explicit environment variables always win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "data/journal.db"),
		JournalDir:     getEnv("JOURNAL_DIR", "data/journal"),
		QuoteAPIKey:    os.Getenv("ALPACA_API_KEY"),
		QuoteAPISecret: os.Getenv("ALPACA_SECRET_KEY"),
		QuoteBaseURL:   getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.QuoteTimeout, err = getDuration("QUOTE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.QuoteCacheTTL, err = getDuration("QUOTE_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	// Accept either a Go duration ("90s", "1h") or bare seconds.
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid %s: %q", key, value)
}
