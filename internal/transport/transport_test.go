package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	op     string
	method string
	status int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeRecorder) RecordHTTPRequest(_ context.Context, op, method string, statusCode int, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{op: op, method: method, status: statusCode})
}

func TestClient_Do_ResolvesAgainstBase(t *testing.T) {
	t.Parallel()
	var gotPath, gotQuery, gotAuth, gotAccept, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("X-Custom")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL + "/v1", APIKey: "secret"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := c.Do(context.Background(), &Request{
		Op:     "test",
		Method: http.MethodGet,
		Path:   "/demo/model/requests",
		Query:  url.Values{"fal_webhook": {"https://hook.example.com"}},
		Header: http.Header{"X-Custom": {"yes"}},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if gotPath != "/v1/demo/model/requests" {
		t.Errorf("expected path /v1/demo/model/requests, got %q", gotPath)
	}
	if gotQuery != "fal_webhook=https%3A%2F%2Fhook.example.com" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if gotAuth != "Key secret" {
		t.Errorf("expected 'Key secret', got %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("expected Accept application/json, got %q", gotAccept)
	}
	if gotCustom != "yes" {
		t.Errorf("expected per-request header, got %q", gotCustom)
	}
}

func TestClient_Do_AbsoluteURL(t *testing.T) {
	t.Parallel()
	var body []byte
	var method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: "https://queue.invalid/"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Do(context.Background(), &Request{
		Method: http.MethodPut,
		Path:   server.URL + "/upload/abc?sig=1",
		Body:   []byte("raw bytes"),
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
	if string(body) != "raw bytes" {
		t.Errorf("expected body 'raw bytes', got %q", body)
	}
}

func TestClient_Do_NonSuccess(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue is full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := &fakeRecorder{}
	c, _ := New(Config{BaseURL: server.URL, Metrics: recorder})

	_, err := c.Do(context.Background(), &Request{Op: "queue.status", Method: http.MethodGet, Path: "x"})
	if err == nil {
		t.Fatal("expected error for 503")
	}

	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if he.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", he.StatusCode)
	}
	if he.Body != "queue is full" {
		t.Errorf("expected body 'queue is full', got %q", he.Body)
	}
	if StatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("StatusCode() = %d, want 503", StatusCode(err))
	}

	if len(recorder.calls) != 1 {
		t.Fatalf("expected 1 recorded call, got %d", len(recorder.calls))
	}
	if recorder.calls[0].op != "queue.status" || recorder.calls[0].status != 503 {
		t.Errorf("unexpected recorded call %+v", recorder.calls[0])
	}
}

func TestClient_Do_ContextCancelled(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, _ := New(Config{BaseURL: server.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: "slow"})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if StatusCode(err) != 0 {
		t.Errorf("expected no status code, got %d", StatusCode(err))
	}
}

func TestHTTPError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err      *HTTPError
		expected string
	}{
		{&HTTPError{StatusCode: 400}, "HTTP 400"},
		{&HTTPError{StatusCode: 404, Body: "not found"}, "HTTP 404: not found"},
		{&HTTPError{StatusCode: 500}, "HTTP 500"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			if tt.err.Error() != tt.expected {
				t.Errorf("Error() = %q, want %q", tt.err.Error(), tt.expected)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400 Bad Request", &HTTPError{StatusCode: 400}, true},
		{"422 Unprocessable", &HTTPError{StatusCode: 422}, true},
		{"499 boundary", &HTTPError{StatusCode: 499}, true},
		{"500 Internal Server Error", &HTTPError{StatusCode: 500}, false},
		{"399 not a client error", &HTTPError{StatusCode: 399}, false},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
