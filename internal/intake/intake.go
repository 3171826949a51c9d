// Package intake carries generation requests into the worker and results
// back out, over Redis lists, NATS subjects or a single in-process prompt.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrExhausted is returned by Receive when a source has no more requests.
var ErrExhausted = errors.New("intake exhausted")

// Request asks the worker to generate images for a prompt.
type Request struct {
	ID             string `json:"id"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageSize      string `json:"image_size,omitempty"` // preset name
	NumImages      int    `json:"num_images,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

// Result statuses
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// Result reports the outcome of one Request.
type Result struct {
	ID        string   `json:"id"`
	RequestID string   `json:"request_id,omitempty"`
	Status    string   `json:"status"`
	Images    []string `json:"images,omitempty"`
	Seed      int64    `json:"seed,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Source yields requests. Receive blocks until a request arrives, ctx is
// done, or the source is exhausted.
type Source interface {
	Receive(ctx context.Context) (*Request, error)
	Close() error
}

// Sink publishes results.
type Sink interface {
	Publish(ctx context.Context, result *Result) error
}

// Queue is a paired Source and Sink.
type Queue interface {
	Source
	Sink
}

// DecodeRequest parses a request payload. A bare string payload is taken
// as the prompt. Missing ids are generated.
func DecodeRequest(data []byte) (*Request, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty request payload")
	}

	var req Request
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
			return nil, fmt.Errorf("invalid request payload: %w", err)
		}
	} else {
		req.Prompt = trimmed
	}

	if req.Prompt == "" {
		return nil, errors.New("request prompt is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return &req, nil
}
