package subscription

import (
	"diffusion/internal/apperrors"
	"diffusion/internal/queue"
	"time"
)

// DefaultPollInterval is the delay between status polls when Options leaves it unset.
const DefaultPollInterval = 500 * time.Millisecond

// Mode selects how status updates are delivered.
type Mode string

const (
	ModePolling   Mode = "polling"
	ModeStreaming Mode = "streaming" // declared by the queue API, not supported
)

// StatusOptions configures waiting on an already enqueued request.
type StatusOptions struct {
	Mode          Mode
	Logs          bool
	PollInterval  time.Duration // default: 500ms
	Timeout       time.Duration // 0 = unbounded
	OnQueueUpdate func(queue.Response)
}

// Options configures one Subscribe call.
type Options[TIn any] struct {
	Input      TIn
	Method     queue.Method
	WebhookURL string
	Priority   queue.Priority
	OnEnqueue  func(requestID string)

	StatusOptions
}

func (o StatusOptions) validate() error {
	switch {
	case o.Mode == ModeStreaming:
		return apperrors.NotImplemented("streaming mode")
	case o.Logs:
		return apperrors.NotImplemented("logs")
	}
	return nil
}

func (o StatusOptions) pollInterval() time.Duration {
	if o.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return o.PollInterval
}
