// Package api provides the worker's operational HTTP API and the
// middleware shared with the queue simulator.
package api

import (
	"context"
	"diffusion/internal/health"
	"diffusion/internal/jobstore"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// JobReader looks up ledger entries.
type JobReader interface {
	Get(ctx context.Context, id string) (*jobstore.Job, error)
}

// Handler contains HTTP handlers for the ops API
type Handler struct {
	jobs   JobReader
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(jobs JobReader, healthChecker *health.Checker) *Handler {
	return &Handler{
		jobs:   jobs,
		health: healthChecker,
	}
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the ledger or intake is unavailable, or during shutdown.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, response)
}

// handleError maps ledger errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, jobstore.ErrNotFound) {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", http.StatusNotFound)
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.Error("Internal error", "error", err, "path", r.URL.Path)
	WriteError(w, http.StatusInternalServerError, "internal error")
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// WriteError writes an error response in the queue API's {"detail": ...} shape.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"detail": message})
}
