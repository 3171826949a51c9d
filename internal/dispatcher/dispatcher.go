// Package dispatcher delivers job lifecycle CloudEvents to callback URLs in
// the background, so a slow receiver never holds up a job.
package dispatcher

import (
	"context"
	"diffusion/pkg/cloudevent"
	"errors"
)

var (
	// ErrBufferFull means the event was dropped because no slot freed up.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Dispatcher queues events for asynchronous delivery.
type Dispatcher interface {
	// Dispatch enqueues event and returns without waiting for delivery.
	Dispatch(event *Event) error
	Stats() Stats
	// Close stops intake and delivers what is queued until ctx is done.
	Close(ctx context.Context) error
}

// Event is one CloudEvent bound for one callback URL.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string
	SigningKey  string
	Requeues    int // times parked behind an open breaker
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	QueueDepth    int
	Queued        int64
	Delivered     int64
	Failed        int64 // gave up after retries or on a permanent rejection
	Dropped       int64
	Requeued      int64
	RetriesTotal  int64
	BreakersTotal int
	BreakersOpen  int
}
