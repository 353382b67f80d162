package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const minSigningKeyLen = 32

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`

	AdminAPIKey        string        `env:"ADMIN_API_KEY"`
	TokenSigningKey    string        `env:"TOKEN_SIGNING_KEY"`
	TokenIssuer        string        `env:"TOKEN_ISSUER" envDefault:"govgate"`
	TokenMaxTTL        time.Duration `env:"TOKEN_MAX_TTL" envDefault:"24h"`
	DecisionSigningKey string        `env:"DECISION_SIGNING_KEY"`

	NonceBackend       string        `env:"NONCE_BACKEND" envDefault:"memory"`
	NonceTTLPadding    time.Duration `env:"NONCE_TTL_PADDING" envDefault:"60s"`
	NonceMaxEntries    int           `env:"NONCE_MAX_ENTRIES" envDefault:"100000"`
	NonceSweepInterval time.Duration `env:"NONCE_SWEEP_INTERVAL" envDefault:"1m"`

	IdempotencyBackend   string        `env:"IDEMPOTENCY_BACKEND" envDefault:"memory"`
	IdempotencyWindow    time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"24h"`
	IdempotencyMinKeyLen int           `env:"IDEMPOTENCY_MIN_KEY_LEN" envDefault:"16"`
	IdempotencyMaxKeys   int           `env:"IDEMPOTENCY_MAX_KEYS" envDefault:"1000000"`

	EscalationAmountThreshold float64       `env:"ESCALATION_AMOUNT_THRESHOLD" envDefault:"250000"`
	EscalationPolicyFile      string        `env:"ESCALATION_POLICY_FILE"`
	EscalationTTL             time.Duration `env:"ESCALATION_TTL" envDefault:"0s"`
	ExecutionReplayWindow     time.Duration `env:"EXECUTION_REPLAY_WINDOW" envDefault:"720h"`

	RateLimitRequests      int  `env:"RATE_LIMIT_REQUESTS" envDefault:"0"`
	RateLimitWindowSeconds int  `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	RateLimitFailClosed    bool `env:"RATE_LIMIT_FAIL_CLOSED" envDefault:"false"`
	RateLimitMaxKeys       int  `env:"RATE_LIMIT_MAX_KEYS" envDefault:"10000"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// FromEnv reads the process environment. Call Validate before wiring.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.NonceBackend = strings.ToLower(strings.TrimSpace(cfg.NonceBackend))
	cfg.IdempotencyBackend = strings.ToLower(strings.TrimSpace(cfg.IdempotencyBackend))
	return cfg, nil
}

// Validate refuses configurations the server must not start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AdminAPIKey) == "" {
		errs = append(errs, errors.New("ADMIN_API_KEY is required"))
	}
	if len(c.TokenSigningKey) < minSigningKeyLen {
		errs = append(errs, fmt.Errorf("TOKEN_SIGNING_KEY must be at least %d bytes", minSigningKeyLen))
	}
	if len(c.DecisionSigningKey) < minSigningKeyLen {
		errs = append(errs, fmt.Errorf("DECISION_SIGNING_KEY must be at least %d bytes", minSigningKeyLen))
	}
	if c.TokenSigningKey != "" && c.TokenSigningKey == c.DecisionSigningKey {
		errs = append(errs, errors.New("TOKEN_SIGNING_KEY and DECISION_SIGNING_KEY must differ"))
	}
	if c.TokenMaxTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_MAX_TTL must be positive"))
	}
	switch c.NonceBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("NONCE_BACKEND=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported NONCE_BACKEND %q", c.NonceBackend))
	}
	switch c.IdempotencyBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("IDEMPOTENCY_BACKEND=redis requires REDIS_ADDR"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("IDEMPOTENCY_BACKEND=postgres requires POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend))
	}
	if c.IdempotencyWindow <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_WINDOW must be positive"))
	}
	if c.NonceMaxEntries <= 0 {
		errs = append(errs, errors.New("NONCE_MAX_ENTRIES must be positive"))
	}
	if c.EscalationTTL < 0 {
		errs = append(errs, errors.New("ESCALATION_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// StorageMode names the durable backend selected by the DSN.
func (c Config) StorageMode() string {
	if c.PostgresDSN != "" {
		return "postgres"
	}
	return "file"
}
