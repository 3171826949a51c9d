// Package health answers the worker's liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker is implemented by the job ledger, the network intakes
// and the callback dispatcher.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded means only optional dependencies are failing. The
	// worker keeps taking jobs.
	StatusDegraded Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy reports whether the instance should stay in rotation.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

const (
	checkTimeout = 5 * time.Second
	cacheFor     = time.Second
)

// Checker runs readiness checks and caches the verdict for a second.
type Checker struct {
	required map[string]ReadinessChecker
	optional map[string]ReadinessChecker

	mu           sync.RWMutex
	lastCheck    time.Time
	cached       *Response
	shuttingDown bool
}

// NewChecker creates a checker over required dependencies. A nil
// dependency is reported as not configured, and a checker with no
// required dependencies is never ready.
func NewChecker(required map[string]ReadinessChecker) *Checker {
	return &Checker{
		required: required,
		optional: make(map[string]ReadinessChecker),
	}
}

// WithOptional adds a dependency whose failure degrades readiness
// without failing it. Call before serving probes.
func (c *Checker) WithOptional(name string, dep ReadinessChecker) *Checker {
	c.optional[name] = dep
	return c
}

// Liveness never touches dependencies.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness checks all dependencies concurrently. During shutdown it
// reports unhealthy without checking anything.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cached != nil && time.Since(c.lastCheck) < cacheFor {
		cached := c.cached
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	required := c.runAll(ctx, c.required)
	optional := c.runAll(ctx, c.optional)

	status := StatusHealthy
	if len(c.required) == 0 {
		status = StatusUnhealthy
	}
	checks := make(map[string]CheckResult, len(required)+len(optional))
	for name, res := range optional {
		checks[name] = res
		if res.Status != StatusHealthy && status == StatusHealthy {
			status = StatusDegraded
		}
	}
	for name, res := range required {
		checks[name] = res
		if res.Status != StatusHealthy {
			status = StatusUnhealthy
		}
	}

	resp := &Response{Status: status, Checks: checks}

	c.mu.Lock()
	if !c.shuttingDown {
		c.cached = resp
		c.lastCheck = time.Now()
	}
	c.mu.Unlock()
	return resp
}

func (c *Checker) runAll(ctx context.Context, deps map[string]ReadinessChecker) map[string]CheckResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(deps))
	)
	for name, dep := range deps {
		wg.Go(func() {
			res := check(ctx, dep)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		})
	}
	wg.Wait()
	return results
}

func check(ctx context.Context, dep ReadinessChecker) CheckResult {
	if dep == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := dep.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// SetShuttingDown makes every later readiness probe fail at once so load
// balancers stop routing here while the worker drains.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cached = nil
}
