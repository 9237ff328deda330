// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the attack service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	DatabaseDriver string // "sqlite3", "postgres", or "memory"
	DatabaseURL    string

	ModelCacheCapacity int
	ModelServiceURL    string // remote inference endpoint; empty = built-in models
	InferenceTimeout   time.Duration

	ResultBaseURL string // base for result_url in webhook payloads
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8002"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		DatabaseDriver: GetEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    GetEnv("DATABASE_URL", "attacks.db"),

		ModelCacheCapacity: GetIntEnv("MODEL_CACHE_CAPACITY", 5),
		ModelServiceURL:    GetEnv("MODEL_SERVICE_URL", ""),
		InferenceTimeout:   GetDurationEnv("INFERENCE_TIMEOUT", 30*time.Second),

		ResultBaseURL: GetEnv("RESULT_BASE_URL", "http://attack-service:8002"),
	}
}
