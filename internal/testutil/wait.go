// Package testutil has helpers for tests that assert on asynchronous
// state, such as background workers updating a store.
package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultPollInterval = 20 * time.Millisecond
)

type waitConfig struct {
	timeout  time.Duration
	interval time.Duration
}

// WaitOption adjusts how long and how often WaitFor polls.
type WaitOption func(*waitConfig)

// WithTimeout overrides the default 10s deadline.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// WithInterval overrides the default 20ms polling interval.
func WithInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.interval = d }
}

// WaitFor polls condition until it returns true or the deadline passes.
// The condition is checked once immediately before any waiting.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	cfg := waitConfig{timeout: defaultWaitTimeout, interval: defaultPollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.NewTimer(cfg.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(cfg.interval)
	defer tick.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

// WaitForCount polls until counter reaches at least target.
func WaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool {
		return counter.Load() >= target
	}, opts...)
}

// MustWaitFor is WaitFor but fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount is WaitForCount but fails the test on timeout.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}
