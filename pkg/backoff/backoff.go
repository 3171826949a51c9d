// Package backoff paces retries of queue submissions and callback
// deliveries.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultInitial = 100 * time.Millisecond
	defaultMax     = 5 * time.Second
)

// Config for exponential backoff. Zero values use the defaults.
type Config struct {
	Initial time.Duration // first delay, default 100ms
	Max     time.Duration // cap, default 5s
	// Jitter in [0,1] shortens each delay by a random fraction up to this
	// much, so jobs that failed together do not retry together.
	Jitter float64
}

// Exponential returns Initial*2^(attempt-1) capped at Max, without
// jitter. Attempts below 1 return Initial.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay := defaultInitial, defaultMax
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxDelay = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	return time.Duration(math.Min(d, float64(maxDelay)))
}

// Delay is Exponential with cfg.Jitter applied.
func Delay(attempt int, cfg *Config) time.Duration {
	d := Exponential(attempt, cfg)
	if cfg == nil || cfg.Jitter <= 0 {
		return d
	}
	j := math.Min(cfg.Jitter, 1)
	return d - time.Duration(rand.Float64()*j*float64(d))
}

// Sleep waits Delay(attempt, cfg) or until ctx is done, returning
// ctx.Err() in the latter case.
func Sleep(ctx context.Context, attempt int, cfg *Config) error {
	timer := time.NewTimer(Delay(attempt, cfg))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
