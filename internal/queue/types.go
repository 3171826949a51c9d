package queue

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Status is the queue state of a request. Wire values are exact.
type Status string

// Status constants
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusInQueue, StatusInProgress, StatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether the result may be fetched.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// UnmarshalJSON rejects statuses outside the known set.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status := Status(raw)
	if !status.Valid() {
		return fmt.Errorf("unknown queue status %q", raw)
	}
	*s = status
	return nil
}

// Response is returned by Submit and Status.
type Response struct {
	RequestID     string  `json:"request_id"`
	Status        Status  `json:"status"`
	ResponseURL   *string `json:"response_url,omitempty"`   // Set while in progress
	QueuePosition *int    `json:"queue_position,omitempty"` // Set while queued
}

// Method is the HTTP verb used for submission.
type Method string

// Supported submission methods
const (
	MethodPost Method = http.MethodPost
	MethodPut  Method = http.MethodPut
)

// Valid reports whether m can carry a submission body.
func (m Method) Valid() bool {
	return m == MethodPost || m == MethodPut
}

// Priority controls queue ordering on the remote service.
type Priority string

// Priority constants
const (
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// SubmitOptions configures a submission.
type SubmitOptions struct {
	Input      any      // Job input, serialized with the client's codec
	Method     Method   // default: POST
	WebhookURL string   // Optional completion webhook
	Priority   Priority // default: normal
}

// Result wraps a decoded job output with the request that produced it.
type Result[T any] struct {
	Data      T      `json:"data"`
	RequestID string `json:"requestId"`
}
