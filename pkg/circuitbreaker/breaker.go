// Package circuitbreaker guards outbound calls to unreliable hosts.
//
// A breaker counts consecutive failures against a destination. Once the
// count reaches the configured threshold the breaker opens and calls are
// refused until a cooldown passes, after which a single probe is let
// through to test whether the destination recovered.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the position of a breaker in its recovery cycle.
type State int

const (
	Closed   State = iota // calls flow normally
	Open                  // calls refused until cooldown passes
	HalfOpen              // probing after cooldown
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < Closed || s > HalfOpen {
		return "unknown"
	}
	return stateNames[s]
}

// Config controls when a breaker opens and how long it stays open.
// Zero or negative values fall back to the defaults.
type Config struct {
	Threshold int           // consecutive failures before opening
	Cooldown  time.Duration // wait before probing an open breaker
}

// DefaultConfig returns the defaults used when a Config field is unset.
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Breaker tracks failures for a single destination.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	streak   int       // consecutive failures since the last success
	openedAt time.Time // when the breaker last tripped
}

// New creates a closed breaker, filling in defaults for unset config.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may proceed. An open breaker whose
// cooldown has passed moves to half-open and lets the call through as a
// probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return true
	}
	if time.Since(b.openedAt) <= b.cfg.Cooldown {
		return false
	}
	b.state = HalfOpen
	return true
}

// RecordSuccess closes the breaker and clears the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.streak = 0
}

// RecordFailure extends the failure streak. A failed half-open probe
// reopens immediately; a closed breaker opens once the streak reaches
// the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streak++
	if b.state == HalfOpen || b.streak >= b.cfg.Threshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak
}

// Reset forces the breaker closed and clears the failure streak.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.streak = 0
}
