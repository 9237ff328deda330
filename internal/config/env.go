package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the variable's value, or def when unset or empty.
func GetEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// GetIntEnv parses the variable as an integer. Unset, empty, or
// unparseable values yield def.
func GetIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetDurationEnv parses the variable as a duration. Bare integers are
// treated as seconds, matching deployments that set values like
// WEBHOOK_RETRY_DELAY=2.
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// GetSecretFile reads a secret from a mounted file, such as a Docker or
// Kubernetes secret. Missing files yield the empty string.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
