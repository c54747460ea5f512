package breaker

import (
	"log/slog"
	"sync"
)

// Registry hands out one breaker per named external dependency. It is built
// once at process start and injected where needed; breakers are created on
// first use.
type Registry struct {
	config  Config
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]*CircuitBreaker
}

func NewRegistry(config Config, logger *slog.Logger) *Registry {
	return &Registry{
		config:  config,
		logger:  logger,
		entries: make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the breaker registered under name, creating it with the
// registry's configuration on first use.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.entries[name]
	r.mu.RUnlock()

	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.entries[name]; ok {
		return cb
	}

	cb = New(name, r.config, r.logger)
	r.entries[name] = cb

	return cb
}

// Stats returns a snapshot of every registered breaker.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.entries))
	for name, cb := range r.entries {
		stats[name] = cb.Stats()
	}

	return stats
}

// ResetAll forces every registered breaker closed.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.entries {
		cb.Reset()
	}
}
