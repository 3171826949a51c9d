// Package circuitbreaker stops calling a dependency after consecutive
// failures and lets a single probe through once a cooldown has passed.
//
// States:
//   - Closed: calls pass
//   - Open: calls fail fast with ErrOpen
//   - HalfOpen: one probe call is in flight; its outcome closes or reopens
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute when the breaker rejects the call.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker settings. Zero values take DefaultConfig's.
type Config struct {
	Threshold int           // consecutive counted failures before opening
	Cooldown  time.Duration // time open before a probe is allowed
	// OnStateChange, if set, is called after every transition with the
	// breaker's registry key (empty for breakers made by New).
	OnStateChange func(key string, from, to State)
}

func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Cooldown:  30 * time.Second,
	}
}

// Breaker guards a single dependency.
type Breaker struct {
	key      string
	cfg      Config
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func New(cfg Config) *Breaker {
	return newKeyed("", cfg)
}

func newKeyed(key string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{key: key, cfg: cfg}
}

// Execute runs fn if the breaker allows it. Errors for which countable
// returns true are recorded as failures; any other outcome, including
// success, closes the breaker. A nil countable counts every error.
func (b *Breaker) Execute(fn func() error, countable func(error) bool) error {
	if !b.allow() {
		return ErrOpen
	}

	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		b.failure()
		return err
	}
	b.success()
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive counted failures since the last success.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return false
		}
		b.probing = true
		b.transition(HalfOpen)
		return true
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false
		}
		b.probing = true
	}
	b.mu.Unlock()
	return true
}

func (b *Breaker) success() {
	b.mu.Lock()
	b.failures = 0
	b.probing = false
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	b.transition(Closed)
}

func (b *Breaker) failure() {
	b.mu.Lock()
	b.failures++
	b.probing = false
	if b.state == HalfOpen || (b.state == Closed && b.failures >= b.cfg.Threshold) {
		b.openedAt = time.Now()
		b.transition(Open)
		return
	}
	b.mu.Unlock()
}

// transition sets the state, releases b.mu, and then fires the hook.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.mu.Unlock()
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(b.key, from, to)
	}
}
