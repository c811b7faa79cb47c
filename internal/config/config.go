package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// Orchestrator settings.
	WorkerPoolSize     int           `mapstructure:"WORKER_POOL_SIZE"`
	StepMaxAttempts    int           `mapstructure:"STEP_MAX_ATTEMPTS"`
	BackoffBase        time.Duration `mapstructure:"BACKOFF_BASE"`
	BackoffCap         time.Duration `mapstructure:"BACKOFF_CAP"`
	StatusPollInterval time.Duration `mapstructure:"STATUS_POLL_INTERVAL"`
	MaxStatusPolls     int           `mapstructure:"MAX_STATUS_POLLS"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepStaleAfter    time.Duration `mapstructure:"SWEEP_STALE_AFTER"`

	// Claims-exchange gateway settings.
	GatewayBaseURL   string  `mapstructure:"GATEWAY_BASE_URL"`
	GatewayToken     string  `mapstructure:"GATEWAY_TOKEN"`
	GatewayRateRPS   float64 `mapstructure:"GATEWAY_RATE_RPS"`
	GatewayRateBurst int     `mapstructure:"GATEWAY_RATE_BURST"`

	// Code lookup service; empty means the built-in static tables.
	CodeLookupURL string `mapstructure:"CODE_LOOKUP_URL"`

	// Payment posting flags a variance when |expected - paid| exceeds this.
	PaymentVarianceThreshold float64 `mapstructure:"PAYMENT_VARIANCE_THRESHOLD"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("WORKER_POOL_SIZE", 8)
	v.SetDefault("STEP_MAX_ATTEMPTS", 3)
	v.SetDefault("BACKOFF_BASE", "500ms")
	v.SetDefault("BACKOFF_CAP", "30s")
	v.SetDefault("STATUS_POLL_INTERVAL", "5s")
	v.SetDefault("MAX_STATUS_POLLS", 10)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_STALE_AFTER", "5m")
	v.SetDefault("GATEWAY_RATE_RPS", 10)
	v.SetDefault("GATEWAY_RATE_BURST", 20)
	v.SetDefault("PAYMENT_VARIANCE_THRESHOLD", 50)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("WORKER_POOL_SIZE")
	v.BindEnv("STEP_MAX_ATTEMPTS")
	v.BindEnv("BACKOFF_BASE")
	v.BindEnv("BACKOFF_CAP")
	v.BindEnv("STATUS_POLL_INTERVAL")
	v.BindEnv("MAX_STATUS_POLLS")
	v.BindEnv("SWEEP_INTERVAL")
	v.BindEnv("SWEEP_STALE_AFTER")
	v.BindEnv("GATEWAY_BASE_URL")
	v.BindEnv("GATEWAY_TOKEN")
	v.BindEnv("GATEWAY_RATE_RPS")
	v.BindEnv("GATEWAY_RATE_BURST")
	v.BindEnv("CODE_LOOKUP_URL")
	v.BindEnv("PAYMENT_VARIANCE_THRESHOLD")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production a real
// database and gateway must be configured; in development both may be omitted,
// which selects the in-memory store and the stub gateway.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.GatewayBaseURL == "" {
			return fmt.Errorf("GATEWAY_BASE_URL is required in production")
		}
		if c.GatewayToken == "" {
			return fmt.Errorf("GATEWAY_TOKEN is required when GATEWAY_BASE_URL is set")
		}
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1, got %d", c.WorkerPoolSize)
	}
	if c.StepMaxAttempts < 1 {
		return fmt.Errorf("STEP_MAX_ATTEMPTS must be at least 1, got %d", c.StepMaxAttempts)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("BACKOFF_BASE must be positive, got %s", c.BackoffBase)
	}
	if c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("BACKOFF_CAP (%s) must not be less than BACKOFF_BASE (%s)", c.BackoffCap, c.BackoffBase)
	}
	if c.GatewayRateRPS <= 0 {
		return fmt.Errorf("GATEWAY_RATE_RPS must be positive, got %v", c.GatewayRateRPS)
	}
	if c.PaymentVarianceThreshold < 0 {
		return fmt.Errorf("PAYMENT_VARIANCE_THRESHOLD must not be negative, got %v", c.PaymentVarianceThreshold)
	}
	return nil
}
