// Package queue implements the submit/status/result primitives of the remote job queue.
package queue

import (
	"context"
	"diffusion/internal/apperrors"
	"diffusion/internal/transport"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Wire names used by the queue service.
const (
	PriorityHeader = "X-Fal-Queue-Priority"
	WebhookParam   = "fal_webhook"

	defaultSubmitPath = "%s/requests"
)

// Doer sends HTTP requests. Implemented by *transport.Client.
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// API is the set of queue primitives. Each call is one HTTP round trip.
type API interface {
	Submit(ctx context.Context, endpointID string, opts SubmitOptions) (*Response, error)
	Status(ctx context.Context, endpointID, requestID string) (*Response, error)
	Result(ctx context.Context, endpointID, requestID string) (json.RawMessage, error)
}

// Config holds construction-time settings for a Client.
type Config struct {
	Codec      Codec  // default: SnakeCaseCodec
	SubmitPath string // fmt template taking the endpoint id (default: "%s/requests")
}

// Client talks to the queue API. It holds no per-call state and is safe
// for concurrent use.
type Client struct {
	doer       Doer
	codec      Codec
	submitPath string
}

// NewClient creates a queue client on top of doer.
func NewClient(doer Doer, cfg Config) *Client {
	if cfg.Codec == nil {
		cfg.Codec = SnakeCaseCodec{}
	}
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = defaultSubmitPath
	}
	return &Client{
		doer:       doer,
		codec:      cfg.Codec,
		submitPath: cfg.SubmitPath,
	}
}

// Submit enqueues opts.Input on endpointID.
func (c *Client) Submit(ctx context.Context, endpointID string, opts SubmitOptions) (*Response, error) {
	const op = "queue.submit"

	method := opts.Method
	if method == "" {
		method = MethodPost
	}
	if !method.Valid() {
		return nil, apperrors.InvalidMethod(op, string(method))
	}

	body, err := c.codec.Marshal(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode input: %w", op, err)
	}

	header := http.Header{"Content-Type": {"application/json"}}
	if opts.Priority != "" {
		header.Set(PriorityHeader, string(opts.Priority))
	}
	var query url.Values
	if opts.WebhookURL != "" {
		query = url.Values{WebhookParam: {opts.WebhookURL}}
	}

	resp, err := c.doer.Do(ctx, &transport.Request{
		Op:     op,
		Method: string(method),
		Path:   fmt.Sprintf(c.submitPath, trimEndpoint(endpointID)),
		Query:  query,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, transportError(op, err)
	}

	return c.decodeResponse(op, resp.Body)
}

// Status returns the current queue state of requestID.
func (c *Client) Status(ctx context.Context, endpointID, requestID string) (*Response, error) {
	const op = "queue.status"

	resp, err := c.doer.Do(ctx, &transport.Request{
		Op:     op,
		Method: http.MethodGet,
		Path:   requestPath(endpointID, requestID) + "/status",
	})
	if err != nil {
		return nil, transportError(op, err)
	}

	return c.decodeResponse(op, resp.Body)
}

// Result returns the raw output body of a completed request.
// Use GetResult to decode it into a concrete output type.
func (c *Client) Result(ctx context.Context, endpointID, requestID string) (json.RawMessage, error) {
	const op = "queue.result"

	resp, err := c.doer.Do(ctx, &transport.Request{
		Op:     op,
		Method: http.MethodGet,
		Path:   requestPath(endpointID, requestID),
	})
	if err != nil {
		return nil, transportError(op, err)
	}

	return json.RawMessage(resp.Body), nil
}

// Codec returns the codec used for bodies.
func (c *Client) Codec() Codec {
	return c.codec
}

// GetResult fetches and decodes the output of requestID into T.
func GetResult[T any](ctx context.Context, api API, endpointID, requestID string) (*Result[T], error) {
	raw, err := api.Result(ctx, endpointID, requestID)
	if err != nil {
		return nil, err
	}
	return DecodeResult[T](raw, requestID)
}

// DecodeResult decodes a raw output body into T and wraps it with requestID.
func DecodeResult[T any](raw json.RawMessage, requestID string) (*Result[T], error) {
	const op = "queue.result"

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, apperrors.Decode(op, errors.New("empty result body"))
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, apperrors.Decode(op, err)
	}
	return &Result[T]{Data: data, RequestID: requestID}, nil
}

func (c *Client) decodeResponse(op string, body []byte) (*Response, error) {
	var resp Response
	if err := c.codec.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.Decode(op, err)
	}
	if resp.RequestID == "" {
		return nil, apperrors.Decode(op, errors.New("missing request_id"))
	}
	if resp.Status == "" {
		return nil, apperrors.Decode(op, errors.New("missing status"))
	}
	return &resp, nil
}

// transportError maps a transport failure into the error taxonomy. The
// cause stays reachable, so context errors still match errors.Is.
func transportError(op string, err error) error {
	return apperrors.Transport(op, transport.StatusCode(err), err)
}

func requestPath(endpointID, requestID string) string {
	return trimEndpoint(endpointID) + "/requests/" + url.PathEscape(requestID)
}

func trimEndpoint(endpointID string) string {
	return strings.Trim(endpointID, "/")
}

// Verify Client implements API
var _ API = (*Client)(nil)
