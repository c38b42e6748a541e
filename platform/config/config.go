// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// RedisConfig provides the Redis connection used for caches and pub/sub.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetLeaseReapInterval() time.Duration
}

// CoordinationConfig provides the timing constants of the order update lease protocol.
type CoordinationConfig interface {
	GetLeaseDuration() time.Duration
	GetLeaseBuffer() time.Duration
	GetDebounceGrace() time.Duration
	GetDebounceStandard() time.Duration
	GetStuckSubmitThreshold() time.Duration
	GetStuckStaleThreshold() time.Duration
	GetMaxConflictRecoveries() int
	GetAutoRecoveryEnabled() bool
}

// PaymentConfig provides settings for payment initiation and verification.
type PaymentConfig interface {
	GetCheckoutBaseURL() string
	GetPaymentReturnURL() string
	GetPaymentCallbackSecret() string
	GetPaymentSessionTTL() time.Duration
	GetPaymentInitialPollDelay() time.Duration
	GetPaymentPollBaseInterval() time.Duration
	GetPaymentPollMaxInterval() time.Duration
	GetPaymentMaxPolls() int
	GetPaymentMaxPollWait() time.Duration
	GetManualVerifyAttempts() int
}

// MonitoringConfig provides settings for the monitoring aggregator.
type MonitoringConfig interface {
	GetAlertRulesFile() string
	GetAlertEvalInterval() time.Duration
	GetMetricsWindow() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	JWTAccessSecret  string
	CORSAllowAll     bool
	CORSOrigins      []string
	CORSAllowCreds   bool
	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int
	LeaseReapEvery   time.Duration

	LeaseDuration         time.Duration
	LeaseBuffer           time.Duration
	DebounceGrace         time.Duration
	DebounceStandard      time.Duration
	StuckSubmitThreshold  time.Duration
	StuckStaleThreshold   time.Duration
	MaxConflictRecoveries int
	AutoRecoveryEnabled   bool

	CheckoutBaseURL         string
	PaymentReturnURL        string
	PaymentCallbackSecret   string
	PaymentSessionTTL       time.Duration
	PaymentInitialPollDelay time.Duration
	PaymentPollBaseInterval time.Duration
	PaymentPollMaxInterval  time.Duration
	PaymentMaxPolls         int
	PaymentMaxPollWait      time.Duration
	ManualVerifyAttempts    int

	AlertRulesFile    string
	AlertEvalInterval time.Duration
	MetricsWindow     time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// RedisConfig / SchedulerConfig implementation
func (c *Config) GetRedisURL() string                 { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool           { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string           { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int            { return c.AsynqConcurrency }
func (c *Config) GetLeaseReapInterval() time.Duration { return c.LeaseReapEvery }

// CoordinationConfig implementation
func (c *Config) GetLeaseDuration() time.Duration        { return c.LeaseDuration }
func (c *Config) GetLeaseBuffer() time.Duration          { return c.LeaseBuffer }
func (c *Config) GetDebounceGrace() time.Duration        { return c.DebounceGrace }
func (c *Config) GetDebounceStandard() time.Duration     { return c.DebounceStandard }
func (c *Config) GetStuckSubmitThreshold() time.Duration { return c.StuckSubmitThreshold }
func (c *Config) GetStuckStaleThreshold() time.Duration  { return c.StuckStaleThreshold }
func (c *Config) GetMaxConflictRecoveries() int          { return c.MaxConflictRecoveries }
func (c *Config) GetAutoRecoveryEnabled() bool           { return c.AutoRecoveryEnabled }

// PaymentConfig implementation
func (c *Config) GetCheckoutBaseURL() string                { return c.CheckoutBaseURL }
func (c *Config) GetPaymentReturnURL() string               { return c.PaymentReturnURL }
func (c *Config) GetPaymentCallbackSecret() string          { return c.PaymentCallbackSecret }
func (c *Config) GetPaymentSessionTTL() time.Duration       { return c.PaymentSessionTTL }
func (c *Config) GetPaymentInitialPollDelay() time.Duration { return c.PaymentInitialPollDelay }
func (c *Config) GetPaymentPollBaseInterval() time.Duration { return c.PaymentPollBaseInterval }
func (c *Config) GetPaymentPollMaxInterval() time.Duration  { return c.PaymentPollMaxInterval }
func (c *Config) GetPaymentMaxPolls() int                   { return c.PaymentMaxPolls }
func (c *Config) GetPaymentMaxPollWait() time.Duration      { return c.PaymentMaxPollWait }
func (c *Config) GetManualVerifyAttempts() int              { return c.ManualVerifyAttempts }

// MonitoringConfig implementation
func (c *Config) GetAlertRulesFile() string           { return c.AlertRulesFile }
func (c *Config) GetAlertEvalInterval() time.Duration { return c.AlertEvalInterval }
func (c *Config) GetMetricsWindow() time.Duration     { return c.MetricsWindow }

// Load reads server configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
		CORSAllowCreds:   strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "10"))),
		LeaseReapEvery:   mustDuration(getEnv("LEASE_REAP_INTERVAL", "30s")),
	}
	applyCoordinationEnv(cfg)
	applyPaymentEnv(cfg)

	cfg.PaymentCallbackSecret = getEnv("PAYMENT_CALLBACK_SECRET", "")
	cfg.AlertRulesFile = getEnv("ALERT_RULES_FILE", "")
	cfg.AlertEvalInterval = mustDuration(getEnv("ALERT_EVAL_INTERVAL", "15s"))
	cfg.MetricsWindow = mustDuration(getEnv("METRICS_WINDOW", "5m"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.PaymentCallbackSecret == "" {
		return nil, fmt.Errorf("PAYMENT_CALLBACK_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if err := validateCoordination(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ClientConfig holds the settings of the operator CLI that drives the coordinators
// against a running API.
type ClientConfig struct {
	Config
	APIBaseURL  string
	AccessToken string
}

// LoadClient reads CLI configuration from environment variables.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		APIBaseURL:  strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		AccessToken: getEnv("API_ACCESS_TOKEN", ""),
	}
	cfg.Env = getEnv("APP_ENV", "development")
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.RedisTLSInsecure = strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true")
	applyCoordinationEnv(&cfg.Config)
	applyPaymentEnv(&cfg.Config)

	if err := validateCoordination(&cfg.Config); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyCoordinationEnv(cfg *Config) {
	cfg.LeaseDuration = mustDuration(getEnv("LEASE_DURATION", "35s"))
	cfg.LeaseBuffer = mustDuration(getEnv("LEASE_BUFFER", "5s"))
	cfg.DebounceGrace = mustDuration(getEnv("DEBOUNCE_GRACE", "500ms"))
	cfg.DebounceStandard = mustDuration(getEnv("DEBOUNCE_STANDARD", "2s"))
	cfg.StuckSubmitThreshold = mustDuration(getEnv("STUCK_SUBMIT_THRESHOLD", "30s"))
	cfg.StuckStaleThreshold = mustDuration(getEnv("STUCK_STALE_THRESHOLD", "2m"))
	cfg.MaxConflictRecoveries = int(mustInt64(getEnv("MAX_CONFLICT_RECOVERIES", "2")))
	cfg.AutoRecoveryEnabled = strings.EqualFold(getEnv("AUTO_RECOVERY_ENABLED", "true"), "true")
}

func applyPaymentEnv(cfg *Config) {
	cfg.CheckoutBaseURL = getEnv("CHECKOUT_BASE_URL", "https://checkout.example.com/pay")
	cfg.PaymentReturnURL = getEnv("PAYMENT_RETURN_URL", "http://localhost:4200/checkout/return")
	cfg.PaymentSessionTTL = mustDuration(getEnv("PAYMENT_SESSION_TTL", "15m"))
	cfg.PaymentInitialPollDelay = mustDuration(getEnv("PAYMENT_INITIAL_POLL_DELAY", "10s"))
	cfg.PaymentPollBaseInterval = mustDuration(getEnv("PAYMENT_POLL_BASE_INTERVAL", "2s"))
	cfg.PaymentPollMaxInterval = mustDuration(getEnv("PAYMENT_POLL_MAX_INTERVAL", "15s"))
	cfg.PaymentMaxPolls = int(mustInt64(getEnv("PAYMENT_MAX_POLLS", "50")))
	cfg.PaymentMaxPollWait = mustDuration(getEnv("PAYMENT_MAX_POLL_WAIT", "5m"))
	cfg.ManualVerifyAttempts = int(mustInt64(getEnv("MANUAL_VERIFY_ATTEMPTS", "5")))
}

// validateCoordination enforces that a lease outlives the slowest legitimate
// update round trip including its retry, otherwise holders lose leases mid-update.
func validateCoordination(cfg *Config) error {
	if cfg.LeaseDuration <= 0 {
		return fmt.Errorf("LEASE_DURATION must be positive")
	}
	if cfg.LeaseDuration < cfg.StuckSubmitThreshold {
		return fmt.Errorf("LEASE_DURATION (%s) must not be shorter than STUCK_SUBMIT_THRESHOLD (%s)",
			cfg.LeaseDuration, cfg.StuckSubmitThreshold)
	}
	if cfg.DebounceGrace > cfg.DebounceStandard {
		return fmt.Errorf("DEBOUNCE_GRACE must not exceed DEBOUNCE_STANDARD")
	}
	if cfg.MaxConflictRecoveries < 0 {
		return fmt.Errorf("MAX_CONFLICT_RECOVERIES must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
