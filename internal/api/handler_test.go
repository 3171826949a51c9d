package api

import (
	"bytes"
	"context"
	"diffusion/internal/health"
	"diffusion/internal/jobstore"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeJobs struct {
	jobs map[string]*jobstore.Job
	err  error
}

func (f *fakeJobs) Get(_ context.Context, id string) (*jobstore.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobstore.ErrNotFound, id)
	}
	return job, nil
}

type readyDep struct{ err error }

func (d readyDep) Ready(context.Context) error { return d.err }

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	handler := &Handler{
		health: health.NewChecker(nil),
	}

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	handler.Livez(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response health.Response
	json.NewDecoder(w.Body).Decode(&response)

	if response.Status != health.StatusHealthy {
		t.Errorf("Expected status healthy, got %s", response.Status)
	}
}

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		deps     map[string]health.ReadinessChecker
		expected int
	}{
		{"no dependencies", nil, http.StatusServiceUnavailable},
		{"ledger down", map[string]health.ReadinessChecker{"jobstore": readyDep{err: errors.New("closed")}}, http.StatusServiceUnavailable},
		{"ready", map[string]health.ReadinessChecker{"jobstore": readyDep{}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := &Handler{health: health.NewChecker(tt.deps)}

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()

			handler.Readyz(w, req)

			if w.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestHandler_GetJob(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobs{jobs: map[string]*jobstore.Job{
		"job-1": {ID: "job-1", Endpoint: "fal-ai/fast-sdxl", RequestID: "r1", Status: jobstore.StatusCompleted},
	}}
	router := NewRouter(RouterConfig{Jobs: jobs, HealthChecker: health.NewChecker(nil)})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var job jobstore.Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode job: %v", err)
	}
	if job.RequestID != "r1" || job.Status != jobstore.StatusCompleted {
		t.Errorf("Unexpected job %+v", job)
	}
}

func TestHandler_GetJob_NotFound(t *testing.T) {
	t.Parallel()
	router := NewRouter(RouterConfig{Jobs: &fakeJobs{}, HealthChecker: health.NewChecker(nil)})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["detail"] == "" {
		t.Error("Expected detail message")
	}
}

func TestHandler_GetJob_StoreError(t *testing.T) {
	t.Parallel()
	router := NewRouter(RouterConfig{Jobs: &fakeJobs{err: errors.New("disk I/O error")}, HealthChecker: health.NewChecker(nil)})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestHandler_GetJob_EmptyID(t *testing.T) {
	t.Parallel()
	handler := &Handler{}

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/", nil)
	w := httptest.NewRecorder()

	handler.GetJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	router := NewRouter(RouterConfig{HealthChecker: health.NewChecker(nil), MetricsHandler: metrics})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("Unexpected metrics response %d %q", w.Code, w.Body.String())
	}
}

func TestChain_Order(t *testing.T) {
	t.Parallel()
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := fmt.Sprint(order); got != "[outer inner handler]" {
		t.Errorf("order = %s", got)
	}
}

func TestMiddleware_Logging(t *testing.T) {
	t.Parallel()
	handler := LoggingMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil))

	if w.Code != http.StatusCreated || w.Body.String() != "ok" {
		t.Errorf("response not passed through: %d %q", w.Code, w.Body.String())
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	t.Parallel()
	handler := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp["detail"] != "internal error" {
		t.Errorf("Expected detail body, got %q (%v)", w.Body.String(), err)
	}
}

func TestMiddleware_ContentType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{"json", http.MethodPost, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"missing", http.MethodPut, "", http.StatusOK},
		{"text", http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{"malformed", http.MethodPost, "application/json; =", http.StatusUnsupportedMediaType},
		{"get ignored", http.MethodGet, "text/plain", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := ContentTypeMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

			req := httptest.NewRequest(tt.method, "/test", bytes.NewBufferString("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestMiddleware_Auth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		scheme   string
		apiKey   string
		header   string
		expected int
	}{
		{"disabled", SchemeBearer, "", "", http.StatusOK},
		{"missing header", SchemeBearer, "secret", "", http.StatusUnauthorized},
		{"bearer ok", SchemeBearer, "secret", "Bearer secret", http.StatusOK},
		{"bearer wrong key", SchemeBearer, "secret", "Bearer nope", http.StatusUnauthorized},
		{"key scheme ok", SchemeKey, "abc:123", "Key abc:123", http.StatusOK},
		{"key scheme case-insensitive", SchemeKey, "abc:123", "key abc:123", http.StatusOK},
		{"wrong scheme", SchemeKey, "abc:123", "Bearer abc:123", http.StatusUnauthorized},
		{"malformed", SchemeKey, "abc:123", "abc:123", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			handler := AuthMiddleware(tt.scheme, tt.apiKey)(inner)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.expected {
				t.Fatalf("Expected status %d, got %d", tt.expected, w.Code)
			}
			if w.Code == http.StatusUnauthorized {
				var resp map[string]string
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp["detail"] == "" {
					t.Errorf("Expected detail body, got %q", w.Body.String())
				}
			}
		})
	}
}
