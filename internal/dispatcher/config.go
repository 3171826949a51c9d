package dispatcher

import (
	"diffusion/internal/config"
	"time"
)

const (
	defaultBufferSize       = 1024
	defaultWorkers          = 4
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5

	defaultInitialBackoff  = 100 * time.Millisecond
	defaultMaxBackoff      = 5 * time.Second
	defaultBreakerCooldown = 30 * time.Second
	defaultMaxRequeues     = 10
)

// MemoryConfig tunes callback delivery. Zero fields take the defaults.
type MemoryConfig struct {
	BufferSize       int           // pending events before drops
	Workers          int           // concurrent deliveries
	HTTPTimeout      time.Duration // per POST
	MaxRetries       int           // retries after the first POST
	BreakerThreshold int           // consecutive failures per host before it is skipped
}

// LoadConfigFromEnv reads the DISPATCHER_* variables.
func LoadConfigFromEnv() MemoryConfig {
	return MemoryConfig{
		BufferSize:       config.GetIntEnv("DISPATCHER_BUFFER_SIZE", defaultBufferSize),
		Workers:          config.GetIntEnv("DISPATCHER_WORKERS", defaultWorkers),
		HTTPTimeout:      config.GetDurationEnv("DISPATCHER_HTTP_TIMEOUT", defaultHTTPTimeout),
		MaxRetries:       config.GetIntEnv("DISPATCHER_MAX_RETRIES", defaultMaxRetries),
		BreakerThreshold: config.GetIntEnv("DISPATCHER_BREAKER_THRESHOLD", defaultBreakerThreshold),
	}.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = defaultBreakerThreshold
	}
	return c
}
