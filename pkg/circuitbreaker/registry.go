package circuitbreaker

import (
	"slices"
	"sync"
)

// Registry holds one breaker per key, typically a model endpoint or a
// callback host. Breakers are created on first use and share a config.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// Stats counts the registry's breakers by state.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for key, creating it if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = newKeyed(key, r.config)
	r.breakers[key] = b
	return b
}

// Execute runs fn through the breaker for key. See Breaker.Execute.
func (r *Registry) Execute(key string, fn func() error, countable func(error) bool) error {
	return r.Get(key).Execute(fn, countable)
}

// State reports the state of key's breaker. Unknown keys are Closed and
// are not registered by the lookup.
func (r *Registry) State(key string) State {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if !ok {
		return Closed
	}
	return b.State()
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.breakers)}
	for _, b := range r.breakers {
		switch b.State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		case Closed:
			stats.Closed++
		}
	}
	return stats
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}
