// Package cloudevent provides CloudEvents 1.0 types.
package cloudevent

import (
	"time"

	"github.com/google/uuid"
)

// Job lifecycle event types
const (
	TypeJobEnqueued  = "diffusion.job.enqueued"
	TypeJobCompleted = "diffusion.job.completed"
	TypeJobFailed    = "diffusion.job.failed"
)

// IsTerminal reports whether eventType ends a job's lifecycle.
func IsTerminal(eventType string) bool {
	return eventType == TypeJobCompleted || eventType == TypeJobFailed
}

// DefaultSource identifies events emitted by the worker.
const DefaultSource = "diffusion-worker"

// CloudEvent represents a CloudEvents 1.0 specification event
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`
}

// New creates a new CloudEvent with default values
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// NewJobEvent creates a job lifecycle event with a fresh id. The job id is
// the subject.
func NewJobEvent(eventType, jobID string, data map[string]any) *CloudEvent {
	return New(eventType, DefaultSource, jobID, uuid.NewString(), data)
}
