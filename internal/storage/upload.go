package storage

import (
	"context"
	"diffusion/internal/apperrors"
	"diffusion/internal/transport"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Upload defaults
const (
	DefaultInitiateURL  = "https://rest.alpha.fal.ai/storage/upload/initiate?storage_type=fal-cdn-v3"
	DefaultContentType  = "application/octet-stream"
	defaultNameTemplate = "20060102T150405.000000000Z"
)

// Doer sends HTTP requests. Implemented by *transport.Client.
type Doer interface {
	Do(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// MetricsRecorder is an optional interface for recording upload metrics.
type MetricsRecorder interface {
	RecordUpload(ctx context.Context, bytes int)
}

// InitiateRequest asks the storage service for a signed upload slot.
type InitiateRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

// InitiateResponse carries the long-lived file URL and the short-lived upload URL.
type InitiateResponse struct {
	FileURL   string `json:"file_url"`
	UploadURL string `json:"upload_url"`
}

// UploadOption customizes a single upload.
type UploadOption func(*InitiateRequest)

// WithFileName sets the stored file name.
func WithFileName(name string) UploadOption {
	return func(r *InitiateRequest) {
		r.FileName = name
	}
}

// WithContentType sets the declared content type.
func WithContentType(contentType string) UploadOption {
	return func(r *InitiateRequest) {
		r.ContentType = contentType
	}
}

// Uploader stores byte payloads through the two-phase initiate/PUT protocol.
// It holds no per-call state and is safe for concurrent use.
type Uploader struct {
	doer        Doer
	initiateURL string
	metrics     MetricsRecorder
	now         func() time.Time
}

// NewUploader creates an Uploader. An empty initiateURL selects DefaultInitiateURL.
func NewUploader(doer Doer, initiateURL string, metrics MetricsRecorder) *Uploader {
	if initiateURL == "" {
		initiateURL = DefaultInitiateURL
	}
	return &Uploader{
		doer:        doer,
		initiateURL: initiateURL,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Upload stores data and returns its durable URL.
//
// If the PUT fails after initiation succeeded, the initiated slot is
// abandoned; the storage service expires unused slots on its own.
func (u *Uploader) Upload(ctx context.Context, data []byte, opts ...UploadOption) (string, error) {
	req := InitiateRequest{
		FileName:    u.now().UTC().Format(defaultNameTemplate) + ".bin",
		ContentType: DefaultContentType,
	}
	for _, opt := range opts {
		opt(&req)
	}

	slot, err := u.Initiate(ctx, req)
	if err != nil {
		return "", err
	}

	_, err = u.doer.Do(ctx, &transport.Request{
		Op:     "storage.put",
		Method: http.MethodPut,
		Path:   slot.UploadURL,
		Header: http.Header{"Content-Type": {req.ContentType}},
		Body:   data,
	})
	if err != nil {
		return "", apperrors.Transport("storage.put", transport.StatusCode(err), err)
	}

	if u.metrics != nil {
		u.metrics.RecordUpload(ctx, len(data))
	}
	slog.Debug("Uploaded file", "bytes", len(data), "fileName", req.FileName)

	return slot.FileURL, nil
}

// Initiate requests an upload slot from the storage service.
func (u *Uploader) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initiate request: %w", err)
	}

	resp, err := u.doer.Do(ctx, &transport.Request{
		Op:     "storage.initiate",
		Method: http.MethodPost,
		Path:   u.initiateURL,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	})
	if err != nil {
		return nil, apperrors.Transport("storage.initiate", transport.StatusCode(err), err)
	}

	var slot InitiateResponse
	if err := json.Unmarshal(resp.Body, &slot); err != nil {
		return nil, apperrors.Decode("storage.initiate", err)
	}
	if slot.FileURL == "" || slot.UploadURL == "" {
		return nil, apperrors.Decode("storage.initiate", fmt.Errorf("missing file_url or upload_url"))
	}

	return &slot, nil
}
