package api

import (
	"crypto/subtle"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Authorization schemes. The queue API uses Key, the ops API Bearer.
const (
	SchemeBearer = "Bearer"
	SchemeKey    = "Key"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws to h so that the first one listed runs outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// probePaths are logged at debug level; orchestrators poll them constantly.
var probePaths = map[string]bool{"/livez": true, "/readyz": true, "/metrics": true}

// LoggingMiddleware logs one line per request with status, size and duration.
func LoggingMiddleware() Middleware {
	logger := slog.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case probePaths[r.URL.Path]:
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", time.Since(start),
			)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 {"detail": ...}.
func RecoveryMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					slog.ErrorContext(r.Context(), "Panic recovered", "error", v, "path", r.URL.Path)
					WriteError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ContentTypeMiddleware rejects POST and PUT bodies declared as anything
// but JSON. Parameters such as charset are allowed; a missing header is
// accepted.
func ContentTypeMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				if ct := r.Header.Get("Content-Type"); ct != "" {
					mediaType, _, err := mime.ParseMediaType(ct)
					if err != nil || mediaType != "application/json" {
						WriteError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware requires "Authorization: <scheme> <apiKey>". The scheme
// is matched case-insensitively. An empty apiKey disables the check.
func AuthMiddleware(scheme, apiKey string) Middleware {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			got, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(got, scheme) {
				WriteError(w, http.StatusUnauthorized, "Authorization must use the "+scheme+" scheme")
				return
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(apiKey)) != 1 {
				WriteError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
