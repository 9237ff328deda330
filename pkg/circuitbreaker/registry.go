package circuitbreaker

import (
	"sync"
)

// Registry hands out one breaker per key, creating them lazily. Keys
// are typically destination hosts.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Breaker
	cfg   Config
}

// NewRegistry creates a registry whose breakers all share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		byKey: make(map[string]*Breaker),
		cfg:   cfg,
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created it between locks.
	if b, ok = r.byKey[key]; ok {
		return b
	}
	b = New(r.cfg)
	r.byKey[key] = b
	return b
}

// Stats holds a snapshot of breaker states across the registry.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats counts breakers by state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.byKey)}
	for _, b := range r.byKey {
		switch b.State() {
		case Open:
			s.Open++
		case HalfOpen:
			s.HalfOpen++
		default:
			s.Closed++
		}
	}
	return s
}
