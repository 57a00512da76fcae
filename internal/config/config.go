package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "TaskPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultCurrency       = "USD"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultRetryBatch     = 25
	defaultRetrySchedule  = "@every 5m"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	Currency       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// RetryBatchSize bounds one payout retry page.
	RetryBatchSize int
	// RetrySchedule is a cron expression for the background retry sweep.
	// Empty disables the sweep; the admin endpoint still works.
	RetrySchedule string
	// AdminTokenHash is the bcrypt hash of the operator token guarding
	// /admin routes. Empty disables the guard outside production.
	AdminTokenHash string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		Env:            getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		Currency:       strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		RetryBatchSize: defaultRetryBatch,
		RetrySchedule:  getEnv("RETRY_SCHEDULE", defaultRetrySchedule),
		AdminTokenHash: os.Getenv("ADMIN_TOKEN_HASH"),
	}

	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("RETRY_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid RETRY_BATCH_SIZE: %q", v)
		}
		cfg.RetryBatchSize = n
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.AdminTokenHash == "" && !cfg.IsDev() {
		return Config{}, fmt.Errorf("ADMIN_TOKEN_HASH must be set when APP_ENV=%s", cfg.Env)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
