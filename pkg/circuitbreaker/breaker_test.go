package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func fail() error { return errUpstream }
func ok() error   { return nil }

// trip drives b open with counted failures.
func trip(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for range n {
		b.Execute(fail, nil)
	}
	if b.State() != Open {
		t.Fatalf("expected open after %d failures, got %s", n, b.State())
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero", Config{}},
		{"negative", Config{Threshold: -1, Cooldown: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := New(tt.cfg)
			if b.cfg.Threshold != 5 || b.cfg.Cooldown != 30*time.Second {
				t.Errorf("expected defaults, got %+v", b.cfg)
			}
			for range 4 {
				b.Execute(fail, nil)
			}
			if b.State() != Closed {
				t.Errorf("expected closed after 4 failures, got %s", b.State())
			}
		})
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 3, Cooldown: time.Hour})

	b.Execute(fail, nil)
	b.Execute(fail, nil)
	if b.State() != Closed || b.Failures() != 2 {
		t.Fatalf("expected closed with 2 failures, got %s/%d", b.State(), b.Failures())
	}

	b.Execute(fail, nil)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Execute(ok, nil); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{"probe succeeds", ok, Closed},
		{"probe fails", fail, Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := New(Config{Threshold: 1, Cooldown: 20 * time.Millisecond})
			trip(t, b, 1)

			time.Sleep(30 * time.Millisecond)
			b.Execute(tt.probe, nil)
			if b.State() != tt.want {
				t.Errorf("expected %s after probe, got %s", tt.want, b.State())
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Millisecond})
	trip(t, b, 1)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Execute(func() error {
		close(started)
		<-release
		return nil
	}, nil)
	<-started

	if b.State() != HalfOpen {
		t.Fatalf("expected half-open during probe, got %s", b.State())
	}
	if err := b.Execute(ok, nil); !errors.Is(err, ErrOpen) {
		t.Errorf("second call during probe: expected ErrOpen, got %v", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for b.State() != Closed {
		if time.Now().After(deadline) {
			t.Fatalf("breaker did not close after probe, state %s", b.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBreaker_Execute(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 2, Cooldown: time.Hour})
	errCaller := errors.New("bad input")
	countable := func(err error) bool { return errors.Is(err, errUpstream) }

	// Errors the classifier ignores do not trip the breaker
	for range 3 {
		if err := b.Execute(func() error { return errCaller }, countable); !errors.Is(err, errCaller) {
			t.Fatalf("expected caller error, got %v", err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("expected closed after ignored errors, got %s", b.State())
	}

	for range 2 {
		b.Execute(fail, countable)
	}
	if b.State() != Open {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil }, countable)
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 3, Cooldown: time.Hour})

	b.Execute(fail, nil)
	b.Execute(fail, nil)
	if err := b.Execute(ok, nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if b.Failures() != 0 {
		t.Errorf("expected failures reset on success, got %d", b.Failures())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	var (
		mu          sync.Mutex
		transitions []string
	)
	r := NewRegistry(Config{
		Threshold: 1,
		Cooldown:  10 * time.Millisecond,
		OnStateChange: func(key string, from, to State) {
			mu.Lock()
			transitions = append(transitions, key+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	r.Execute("fal-ai/fast-sdxl", fail, nil)
	time.Sleep(20 * time.Millisecond)
	r.Execute("fal-ai/fast-sdxl", ok, nil)
	r.Execute("fal-ai/fast-sdxl", ok, nil)

	want := []string{
		"fal-ai/fast-sdxl:closed->open",
		"fal-ai/fast-sdxl:open->half-open",
		"fal-ai/fast-sdxl:half-open->closed",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_StateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state    State
		expected string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestRegistry_GetCreatesBreaker(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 5, Cooldown: time.Second})

	if r.Get("service-a") != r.Get("service-a") {
		t.Error("expected same breaker for same key")
	}
	if r.Get("service-a") == r.Get("service-b") {
		t.Error("expected different breaker for different key")
	}
	if got := r.Stats().Total; got != 2 {
		t.Errorf("expected 2 breakers, got %d", got)
	}
}

func TestRegistry_Stats(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 2, Cooldown: time.Hour})

	r.Execute("service-a", fail, nil)
	r.Execute("service-a", fail, nil)
	r.Execute("service-b", ok, nil)
	_ = r.Get("service-c")

	stats := r.Stats()
	if stats.Total != 3 || stats.Open != 1 || stats.Closed != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	t.Parallel()
	r := NewRegistry(DefaultConfig())

	var distinct atomic.Int32
	seen := sync.Map{}
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if _, loaded := seen.LoadOrStore(r.Get("hooks.example.com"), true); !loaded {
				distinct.Add(1)
			}
		})
	}
	wg.Wait()

	if distinct.Load() != 1 {
		t.Errorf("expected one breaker for a key, got %d", distinct.Load())
	}
}

func TestRegistry_Execute(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Hour})
	errUpstream := errors.New("upstream down")
	countable := func(err error) bool { return errors.Is(err, errUpstream) }

	if r.State("fal-ai/fast-sdxl") != Closed {
		t.Fatal("expected unknown key to report closed")
	}
	if got := r.Stats().Total; got != 0 {
		t.Fatalf("State registered a breaker: total = %d", got)
	}

	if err := r.Execute("fal-ai/fast-sdxl", func() error { return errUpstream }, countable); !errors.Is(err, errUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if r.State("fal-ai/fast-sdxl") != Open {
		t.Fatalf("expected open, got %s", r.State("fal-ai/fast-sdxl"))
	}

	called := false
	err := r.Execute("fal-ai/fast-sdxl", func() error { called = true; return nil }, countable)
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}

	// Other keys are independent
	if err := r.Execute("fal-ai/other", func() error { return nil }, countable); err != nil {
		t.Fatalf("unexpected error on independent key: %v", err)
	}
}

func TestRegistry_KeysSorted(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 5, Cooldown: time.Second})

	for _, k := range []string{"hooks.example.com", "api.example.com", "cdn.example.com"} {
		_ = r.Get(k)
	}

	got := r.Keys()
	want := []string{"api.example.com", "cdn.example.com", "hooks.example.com"}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
