// Package backoff provides exponential backoff calculation.
package backoff

import (
	"math"
	"time"
)

// Config for exponential backoff. A zero Initial uses the default;
// a zero Max means the delay is uncapped.
type Config struct {
	Initial time.Duration // default: 1s
	Max     time.Duration // 0 = no cap
}

// Exponential calculates the delay before a given retry attempt.
// Attempt 1 returns Initial, attempt 2 returns Initial*2, etc.
func Exponential(attempt int, cfg Config) time.Duration {
	initial := time.Second
	if cfg.Initial > 0 {
		initial = cfg.Initial
	}

	if attempt < 1 {
		return initial
	}
	delay := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if cfg.Max > 0 && delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}
	return time.Duration(delay)
}
