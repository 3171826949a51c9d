package api

import (
	"diffusion/internal/health"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Jobs           JobReader
	HealthChecker  *health.Checker
	MetricsHandler http.Handler
	APIKey         string
}

// NewRouter creates the ops router.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Jobs, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Job ledger - auth required
	authMiddleware := AuthMiddleware(SchemeBearer, cfg.APIKey)
	mux.Handle("GET /v1/jobs/{jobId}", authMiddleware(http.HandlerFunc(handler.GetJob)))

	return Chain(mux, RecoveryMiddleware(), LoggingMiddleware())
}
