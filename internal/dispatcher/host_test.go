package dispatcher

import (
	"context"
	"diffusion/pkg/circuitbreaker"
	"diffusion/pkg/cloudevent"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestExtractHost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"callback with port", "http://localhost:8080/hooks/diffusion", "localhost:8080"},
		{"https without port", "https://hooks.example.com/fal", "hooks.example.com"},
		{"query ignored", "https://api.example.com:3000/v1/events?job=e2e-1", "api.example.com:3000"},
		{"mixed case folded", "https://Hooks.Example.COM/fal", "hooks.example.com"},
		{"ip address", "http://10.0.0.7:9000/hook", "10.0.0.7:9000"},
		{"malformed returns input", "://invalid", "://invalid"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extractHost(tt.rawURL); got != tt.want {
				t.Errorf("extractHost(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestMemoryDispatcher_BreakerPerHost(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewMemory(MemoryConfig{
		BufferSize:       10,
		Workers:          1,
		HTTPTimeout:      time.Second,
		MaxRetries:       1,
		BreakerThreshold: 1,
	}, nil)
	defer d.Close(context.Background())

	if err := d.Ready(context.Background()); err != nil {
		t.Fatalf("Ready before failures: %v", err)
	}

	event := cloudevent.NewJobEvent(cloudevent.TypeJobFailed, "job-1", map[string]any{"jobId": "job-1"})
	if err := d.Dispatch(&Event{Destination: server.URL + "/hooks/diffusion", Payload: event}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	host := extractHost(server.URL)
	deadline := time.Now().Add(5 * time.Second)
	for d.breakers.State(host) != circuitbreaker.Open {
		if time.Now().After(deadline) {
			t.Fatalf("breaker for %s never opened (attempts %d)", host, attempts.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	// MaxRetries 1 means two POSTs for the one event.
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if keys := d.breakers.Keys(); len(keys) != 1 || keys[0] != host {
		t.Errorf("expected one breaker keyed %q, got %v", host, keys)
	}
	if err := d.Ready(context.Background()); err == nil {
		t.Error("expected Ready to fail with an open callback breaker")
	}
}
