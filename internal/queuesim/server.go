// Package queuesim is an in-process stand-in for the remote queue and
// storage service. It serves the same routes and wire shapes, advances each
// request through a scripted status sequence and records every call.
package queuesim

import (
	"bytes"
	"diffusion/internal/api"
	"diffusion/internal/queue"
	"diffusion/internal/storage"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultScript is the status sequence reported by successive status polls.
var DefaultScript = []queue.Status{queue.StatusInQueue, queue.StatusInProgress, queue.StatusCompleted}

// ResultFunc produces the output body for a completed request.
type ResultFunc func(endpointID, requestID string, input json.RawMessage) (any, error)

// Config holds simulator settings.
type Config struct {
	APIKey     string         // Required "Key" credential; empty disables auth
	Script     []queue.Status // default: DefaultScript
	NewID      func() string  // default: uuid.NewString
	ResultFunc ResultFunc     // default: FastSDXLResult
}

// Call is one recorded request.
type Call struct {
	Method   string
	Path     string
	Query    url.Values
	Priority string
	Body     []byte
}

type request struct {
	endpoint string
	input    json.RawMessage
	polls    int
	status   queue.Status
}

type injectedFailure struct {
	status    int
	remaining int
}

// Server implements the simulated queue and storage API.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	requests map[string]*request
	slots    map[string]bool
	files    map[string]storedFile
	calls    []Call
	failure  injectedFailure
}

type storedFile struct {
	contentType string
	data        []byte
}

// New creates a Server.
func New(cfg Config) *Server {
	if len(cfg.Script) == 0 {
		cfg.Script = DefaultScript
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.ResultFunc == nil {
		cfg.ResultFunc = FastSDXLResult
	}
	return &Server{
		cfg:      cfg,
		logger:   slog.With("component", "queuesim"),
		requests: make(map[string]*request),
		slots:    make(map[string]bool),
		files:    make(map[string]storedFile),
	}
}

// Handler returns the routed handler with the shared middleware chain.
func (s *Server) Handler() http.Handler {
	auth := api.AuthMiddleware(api.SchemeKey, s.cfg.APIKey)
	jsonOnly := api.ContentTypeMiddleware()

	mux := http.NewServeMux()
	mux.Handle("POST /storage/upload/initiate", api.Chain(http.HandlerFunc(s.initiate), auth, jsonOnly))
	mux.HandleFunc("PUT /uploads/{name}", s.upload)
	mux.HandleFunc("GET /files/{name}", s.file)
	mux.Handle("/", api.Chain(http.HandlerFunc(s.queue), auth, jsonOnly))

	return api.Chain(mux, api.RecoveryMiddleware(), api.LoggingMiddleware(), s.record, s.failures)
}

// FailNext makes the next n requests fail with status.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = injectedFailure{status: status, remaining: n}
}

// Calls returns a copy of the recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// File returns an uploaded file by name.
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	return f.data, ok
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method:   r.Method,
			Path:     r.URL.EscapedPath(),
			Query:    r.URL.Query(),
			Priority: r.Header.Get(queue.PriorityHeader),
			Body:     body,
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) failures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if s.failure.remaining > 0 {
			s.failure.remaining--
			status = s.failure.status
		}
		s.mu.Unlock()

		if status != 0 {
			api.WriteError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// queue dispatches {endpoint}/requests, {endpoint}/requests/{id}/status
// and {endpoint}/requests/{id}. Endpoint ids may contain slashes.
func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.EscapedPath(), "/")

	if endpoint, ok := strings.CutSuffix(path, "/requests"); ok {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			api.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.submit(w, r, unescape(endpoint))
		return
	}

	idx := strings.LastIndex(path, "/requests/")
	if idx < 0 || r.Method != http.MethodGet {
		api.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	endpoint, rest := unescape(path[:idx]), path[idx+len("/requests/"):]

	if id, ok := strings.CutSuffix(rest, "/status"); ok {
		s.status(w, endpoint, unescape(id))
		return
	}
	s.result(w, endpoint, unescape(rest))
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, endpoint string) {
	input, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(input) {
		api.WriteError(w, http.StatusUnprocessableEntity, "request body must be JSON")
		return
	}

	id := s.cfg.NewID()

	s.mu.Lock()
	position := len(s.requests)
	s.requests[id] = &request{endpoint: endpoint, input: input, status: queue.StatusInQueue}
	s.mu.Unlock()

	s.logger.Debug("Request enqueued", "endpoint", endpoint, "requestId", id)
	api.WriteJSON(w, http.StatusOK, queue.Response{
		RequestID:     id,
		Status:        queue.StatusInQueue,
		QueuePosition: &position,
	})
}

func (s *Server) status(w http.ResponseWriter, endpoint, id string) {
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok || req.endpoint != endpoint {
		s.mu.Unlock()
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("request %s not found", id))
		return
	}
	req.status = s.cfg.Script[min(req.polls, len(s.cfg.Script)-1)]
	req.polls++
	resp := queue.Response{RequestID: id, Status: req.status}
	switch req.status {
	case queue.StatusInQueue:
		position := 0
		resp.QueuePosition = &position
	case queue.StatusInProgress:
		responseURL := endpoint + "/requests/" + url.PathEscape(id)
		resp.ResponseURL = &responseURL
	}
	s.mu.Unlock()

	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) result(w http.ResponseWriter, endpoint, id string) {
	s.mu.Lock()
	req, ok := s.requests[id]
	var status queue.Status
	var input json.RawMessage
	if ok {
		status, input = req.status, req.input
	}
	s.mu.Unlock()

	if !ok || req.endpoint != endpoint {
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("request %s not found", id))
		return
	}
	if !status.Terminal() {
		api.WriteError(w, http.StatusBadRequest, "request is still in progress")
		return
	}

	out, err := s.cfg.ResultFunc(endpoint, id, input)
	if err != nil {
		api.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) initiate(w http.ResponseWriter, r *http.Request) {
	var req storage.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileName == "" {
		api.WriteError(w, http.StatusUnprocessableEntity, "file_name is required")
		return
	}

	name := s.cfg.NewID() + "-" + url.PathEscape(req.FileName)
	base := baseURL(r)

	s.mu.Lock()
	s.slots[name] = true
	s.mu.Unlock()

	api.WriteJSON(w, http.StatusOK, storage.InitiateResponse{
		FileURL:   base + "/files/" + name,
		UploadURL: base + "/uploads/" + name,
	})
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.slots[name] {
		api.WriteError(w, http.StatusNotFound, "upload slot not found")
		return
	}
	delete(s.slots, name)
	s.files[name] = storedFile{contentType: r.Header.Get("Content-Type"), data: data}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) file(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.files[r.PathValue("name")]
	s.mu.Unlock()

	if !ok {
		api.WriteError(w, http.StatusNotFound, "file not found")
		return
	}
	if f.contentType != "" {
		w.Header().Set("Content-Type", f.contentType)
	}
	w.Write(f.data)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func unescape(segment string) string {
	if u, err := url.PathUnescape(segment); err == nil {
		return u
	}
	return segment
}
