package webhook

import (
	"time"

	"advsandbox/internal/config"
)

// Circuit breaker defaults. These rarely need tuning.
const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
)

// Config holds dispatcher configuration.
type Config struct {
	BufferSize  int           // pending deliveries buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	// MaxRetries is the total number of delivery attempts per callback.
	MaxRetries int // default: 3

	// RetryDelay seeds exponential backoff: the wait before attempt n+1
	// is RetryDelay * 2^(n-1).
	RetryDelay time.Duration // default: 1s

	// SigningKey enables HMAC signing of callback bodies when set.
	SigningKey string
}

// LoadConfigFromEnv loads dispatcher configuration from environment
// variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize:  config.GetIntEnv("WEBHOOK_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("WEBHOOK_WORKERS", 4),
		HTTPTimeout: config.GetDurationEnv("WEBHOOK_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:  config.GetIntEnv("WEBHOOK_MAX_RETRIES", 3),
		RetryDelay:  config.GetDurationEnv("WEBHOOK_RETRY_DELAY", time.Second),
		SigningKey:  config.GetSecretFile(config.GetEnv("WEBHOOK_SIGNING_KEY_FILE", "")),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}
