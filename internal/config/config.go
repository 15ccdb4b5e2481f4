package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	ListenAddr  string

	// DatabaseURL selects the ledger backend: a postgres:// URL in
	// deployed environments, or a sqlite file path (or ":memory:") for
	// local development.
	DatabaseURL string

	RedisAddr      string
	RateLimitRPS   float64
	RateLimitBurst int
	TokenIssuer    string

	// SigningKeyPath points at a PEM RSA key shared with the identity
	// service. Empty means an ephemeral per-process key, development only.
	SigningKeyPath string

	AuditLogPath    string
	Currency        string
	WithdrawalFee   int64
	CardFundingBps  int64
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables. Deployed
// environments are validated strictly; development gets permissive
// defaults so the server runs with nothing but DATABASE_URL set.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     envOr("APP_ENV", "development"),
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		TokenIssuer:     envOr("TOKEN_ISSUER", "wallet-identity"),
		SigningKeyPath:  os.Getenv("AUTH_KEY_FILE"),
		AuditLogPath:    envOr("AUDIT_LOG_PATH", "audit.log"),
		Currency:        envOr("WALLET_CURRENCY", "NGN"),
		ShutdownTimeout: 15 * time.Second,
	}

	var err error
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.WithdrawalFee, err = envInt64("WITHDRAWAL_FEE_MINOR", 5000); err != nil {
		return nil, err
	}
	if cfg.CardFundingBps, err = envInt64("CARD_FUNDING_BPS", 150); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete for its environment.
func (c *Config) Validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Environment == "production" || c.Environment == "staging" {
		if c.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
		if c.SigningKeyPath == "" {
			missing = append(missing, "AUTH_KEY_FILE")
		}
		if !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
			return errors.New("DATABASE_URL must be a postgres URL in " + c.Environment)
		}
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}
	if c.WithdrawalFee < 0 || c.CardFundingBps < 0 {
		return errors.New("fees must not be negative")
	}
	return nil
}

// UsePostgres reports whether DATABASE_URL points at Postgres rather than
// the embedded store.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
