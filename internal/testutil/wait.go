// Package testutil polls for asynchronous test conditions.
package testutil

import (
	"cmp"
	"testing"
	"time"
)

// WaitOptions bounds a poll.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

type WaitOption func(*WaitOptions)

// WithTimeout sets how long to poll before giving up (default 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval sets the delay between polls (default 25ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

func defaultOptions() WaitOptions {
	return WaitOptions{
		Timeout:  10 * time.Second,
		Interval: 25 * time.Millisecond,
	}
}

// WaitFor polls condition until it holds or the timeout elapses, and
// reports whether it held. The condition is checked once more at the
// deadline.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.Timeout)
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(min(o.Interval, time.Until(deadline)))
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// WaitForAtLeast polls load until it returns at least target. It fits
// atomic counters (pass counter.Load) and collection sizes alike.
func WaitForAtLeast[T cmp.Ordered](tb testing.TB, load func() T, target T, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool { return load() >= target }, opts...)
}

// MustWaitForAtLeast is WaitForAtLeast that fails the test on timeout,
// reporting the last observed value.
func MustWaitForAtLeast[T cmp.Ordered](tb testing.TB, load func() T, target T, opts ...WaitOption) {
	tb.Helper()
	if !WaitForAtLeast(tb, load, target, opts...) {
		tb.Fatalf("timed out waiting for %v (last: %v)", target, load())
	}
}
