// Package transport provides the HTTP adapter shared by the queue and storage clients.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response body is kept for diagnostics.
const maxErrorBody = 4 << 10

// MetricsRecorder is an optional interface for recording outbound request metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(ctx context.Context, op, method string, statusCode int, durationSeconds float64)
}

// Config holds construction-time settings for a Client.
type Config struct {
	BaseURL string        // Relative request paths are resolved against this
	APIKey  string        // Sent as "Authorization: Key <APIKey>" when set
	Headers http.Header   // Extra default headers
	Timeout time.Duration // Per-request timeout (default: 60s)
	Metrics MetricsRecorder
	Client  *http.Client // Optional; replaces the default pooled client
}

// Client sends HTTP requests with a fixed base address and default headers.
// It holds no per-call state and is safe for concurrent use.
type Client struct {
	base    *url.URL
	headers http.Header
	http    *http.Client
	metrics MetricsRecorder
}

// Request describes one outbound call.
type Request struct {
	Op     string // Operation name used in metrics and errors
	Method string
	Path   string // Relative to the base URL, or an absolute URL
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a fully-read successful response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.BaseURL != "" && !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Key "+cfg.APIKey)
	}
	for k, vs := range cfg.Headers {
		headers[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		base:    base,
		headers: headers,
		http:    client,
		metrics: cfg.Metrics,
	}, nil
}

// BaseURL returns the configured base address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do sends req and returns the response body. Non-2xx responses are
// returned as *HTTPError; network failures are wrapped.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range c.headers {
		httpReq.Header[k] = vs
	}
	for k, vs := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(k)] = vs
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.record(ctx, req, 0, start)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.record(ctx, req, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// resolve joins path onto the base URL unless path is already absolute.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	target := ref
	if !ref.IsAbs() {
		target = c.base.ResolveReference(ref)
	}
	if len(query) > 0 {
		q := target.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target.String(), nil
}

func (c *Client) record(ctx context.Context, req *Request, statusCode int, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordHTTPRequest(ctx, req.Op, req.Method, statusCode, time.Since(start).Seconds())
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsClientError returns true for 4xx errors.
func IsClientError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 400 && he.StatusCode < 500
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0 when the request
// never produced a response.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
