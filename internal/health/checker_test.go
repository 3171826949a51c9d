package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDep struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeDep) Ready(ctx context.Context) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

var errRefused = errors.New("connection refused")

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	if got := NewChecker(nil).Liveness(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", got)
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		required map[string]ReadinessChecker
		optional map[string]ReadinessChecker
		want     Status
		messages map[string]string
	}{
		{
			name: "no dependencies",
			want: StatusUnhealthy,
		},
		{
			name:     "nil dependency",
			required: map[string]ReadinessChecker{"jobstore": nil},
			want:     StatusUnhealthy,
			messages: map[string]string{"jobstore": "not configured"},
		},
		{
			name:     "all healthy",
			required: map[string]ReadinessChecker{"jobstore": &fakeDep{}, "intake": &fakeDep{}},
			optional: map[string]ReadinessChecker{"callbacks": &fakeDep{}},
			want:     StatusHealthy,
		},
		{
			name:     "required failing",
			required: map[string]ReadinessChecker{"jobstore": &fakeDep{}, "intake": &fakeDep{err: errRefused}},
			want:     StatusUnhealthy,
			messages: map[string]string{"intake": "connection refused"},
		},
		{
			name:     "optional failing degrades",
			required: map[string]ReadinessChecker{"jobstore": &fakeDep{}},
			optional: map[string]ReadinessChecker{"callbacks": &fakeDep{err: errors.New("1 callback host unreachable")}},
			want:     StatusDegraded,
			messages: map[string]string{"callbacks": "1 callback host unreachable"},
		},
		{
			name:     "required failure wins over degraded",
			required: map[string]ReadinessChecker{"jobstore": &fakeDep{err: errRefused}},
			optional: map[string]ReadinessChecker{"callbacks": &fakeDep{err: errRefused}},
			want:     StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			checker := NewChecker(tt.required)
			for name, dep := range tt.optional {
				checker.WithOptional(name, dep)
			}

			resp := checker.Readiness(context.Background())

			if resp.Status != tt.want {
				t.Errorf("Status = %s, want %s (%+v)", resp.Status, tt.want, resp.Checks)
			}
			if len(resp.Checks) != len(tt.required)+len(tt.optional) {
				t.Errorf("Expected %d checks, got %d", len(tt.required)+len(tt.optional), len(resp.Checks))
			}
			for name, msg := range tt.messages {
				if got := resp.Checks[name].Message; got != msg {
					t.Errorf("%s message = %q, want %q", name, got, msg)
				}
			}
		})
	}
}

func TestChecker_Readiness_Concurrent(t *testing.T) {
	t.Parallel()
	checker := NewChecker(map[string]ReadinessChecker{
		"jobstore": &fakeDep{delay: 100 * time.Millisecond},
		"intake":   &fakeDep{delay: 100 * time.Millisecond},
	}).WithOptional("callbacks", &fakeDep{delay: 100 * time.Millisecond})

	start := time.Now()
	checker.Readiness(context.Background())

	// Each phase runs its checks in parallel.
	if elapsed := time.Since(start); elapsed > 280*time.Millisecond {
		t.Errorf("checks ran serially: %v", elapsed)
	}
}

func TestChecker_Readiness_Cached(t *testing.T) {
	t.Parallel()
	dep := &fakeDep{}
	checker := NewChecker(map[string]ReadinessChecker{"jobstore": dep})

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())

	if dep.calls.Load() != 1 {
		t.Errorf("Expected cached second check, got %d calls", dep.calls.Load())
	}
}

func TestChecker_SetShuttingDown(t *testing.T) {
	t.Parallel()
	dep := &fakeDep{}
	checker := NewChecker(map[string]ReadinessChecker{"jobstore": dep})

	if !checker.Readiness(context.Background()).IsHealthy() {
		t.Fatal("Expected healthy before shutdown")
	}

	checker.SetShuttingDown()

	resp := checker.Readiness(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy during shutdown, got %s", resp.Status)
	}
	if _, ok := resp.Checks["shutdown"]; !ok {
		t.Error("Expected shutdown check")
	}
	if dep.calls.Load() != 1 {
		t.Errorf("dependencies checked during shutdown: %d calls", dep.calls.Load())
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	for status, want := range map[Status]bool{
		StatusHealthy:   true,
		StatusDegraded:  true,
		StatusUnhealthy: false,
	} {
		if got := (&Response{Status: status}).IsHealthy(); got != want {
			t.Errorf("IsHealthy(%s) = %v, want %v", status, got, want)
		}
	}
}
