// Package subscription runs the submit, poll, result lifecycle of a queued job.
package subscription

import (
	"context"
	"diffusion/internal/apperrors"
	"diffusion/internal/observability"
	"diffusion/internal/queue"
	"diffusion/internal/storage"
	"errors"
	"log/slog"
	"reflect"
	"time"
)

// MetricsRecorder records subscription lifecycle metrics.
type MetricsRecorder interface {
	RecordSubscriptionStarted(ctx context.Context, endpoint string)
	RecordSubscriptionFinished(ctx context.Context, endpoint, outcome string, durationSeconds float64)
	RecordPoll(ctx context.Context, endpoint, status string)
}

// Config holds dependencies for a Subscriber.
type Config struct {
	API      queue.API
	Uploader storage.FileUploader // nil disables externalization of inline files
	Logger   *slog.Logger
	Metrics  MetricsRecorder
}

// Subscriber drives jobs through the queue. It keeps no per-job state and
// may be shared by concurrent subscriptions.
type Subscriber struct {
	api      queue.API
	uploader storage.FileUploader
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// New creates a Subscriber.
func New(cfg Config) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		api:      cfg.API,
		uploader: cfg.Uploader,
		logger:   logger.With("component", "subscription"),
		metrics:  cfg.Metrics,
	}
}

// Subscribe submits opts.Input to endpointID, waits until the request
// completes and returns its decoded output.
//
// Inline file fields are uploaded first. OnEnqueue runs once with the
// request id before any OnQueueUpdate. The result is fetched exactly once,
// after the first COMPLETED status. Cancellation of ctx or expiry of
// opts.Timeout fails the call with apperrors.ErrSubscriptionCancelled.
// Transport failures are not retried.
func Subscribe[TIn, TOut any](ctx context.Context, s *Subscriber, endpointID string, opts Options[TIn]) (*queue.Result[TOut], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := deriveContext(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	s.recordStarted(ctx, endpointID)
	result, err := subscribe[TIn, TOut](ctx, s, endpointID, opts)
	err = cancelled(ctx, "subscription.subscribe", err)
	s.recordFinished(ctx, endpointID, err, time.Since(start))

	if err != nil {
		s.logger.Warn("subscription failed", "endpoint", endpointID, "error", err)
		return nil, err
	}
	s.logger.Info("subscription completed",
		"endpoint", endpointID,
		"request_id", result.RequestID,
		"duration", time.Since(start))
	return result, nil
}

func subscribe[TIn, TOut any](ctx context.Context, s *Subscriber, endpointID string, opts Options[TIn]) (*queue.Result[TOut], error) {
	input := opts.Input
	if storage.HasInline(any(&input)) || storage.HasInline(any(input)) {
		if reflect.TypeFor[TIn]().Kind() == reflect.Pointer {
			return nil, apperrors.NotImplemented("pointer inputs with inline files")
		}
		if s.uploader == nil {
			return nil, apperrors.NotImplemented("inline files without an uploader")
		}
		var err error
		input, err = storage.Externalize(ctx, s.uploader, input)
		if err != nil {
			return nil, err
		}
	}

	enqueued, err := s.api.Submit(ctx, endpointID, queue.SubmitOptions{
		Input:      input,
		Method:     opts.Method,
		WebhookURL: opts.WebhookURL,
		Priority:   opts.Priority,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("request enqueued", "endpoint", endpointID, "request_id", enqueued.RequestID)
	if opts.OnEnqueue != nil {
		opts.OnEnqueue(enqueued.RequestID)
	}

	return await[TOut](ctx, s, endpointID, enqueued.RequestID, opts.StatusOptions)
}

// Resume waits for requestID, enqueued by an earlier Subscribe, to complete
// and fetches its output. Nothing is submitted. Cancellation and timeouts
// behave as in Subscribe.
func Resume[TOut any](ctx context.Context, s *Subscriber, endpointID, requestID string, opts StatusOptions) (*queue.Result[TOut], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := deriveContext(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	s.recordStarted(ctx, endpointID)
	result, err := await[TOut](ctx, s, endpointID, requestID, opts)
	err = cancelled(ctx, "subscription.resume", err)
	s.recordFinished(ctx, endpointID, err, time.Since(start))

	if err != nil {
		s.logger.Warn("resumed subscription failed", "endpoint", endpointID, "request_id", requestID, "error", err)
		return nil, err
	}
	s.logger.Info("resumed subscription completed", "endpoint", endpointID, "request_id", requestID)
	return result, nil
}

func await[TOut any](ctx context.Context, s *Subscriber, endpointID, requestID string, opts StatusOptions) (*queue.Result[TOut], error) {
	if _, err := s.poll(ctx, endpointID, requestID, opts); err != nil {
		return nil, err
	}
	return queue.GetResult[TOut](ctx, s.api, endpointID, requestID)
}

// SubscribeToStatus polls requestID until it completes and returns the
// terminal response. It does not fetch the result.
func (s *Subscriber) SubscribeToStatus(ctx context.Context, endpointID, requestID string, opts StatusOptions) (*queue.Response, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := deriveContext(ctx, opts.Timeout)
	defer cancel()

	resp, err := s.poll(ctx, endpointID, requestID, opts)
	if err != nil {
		return nil, cancelled(ctx, "subscription.status", err)
	}
	return resp, nil
}

// poll checks status until COMPLETED, sleeping between checks. Both the
// status call and the sleep observe ctx.
func (s *Subscriber) poll(ctx context.Context, endpointID, requestID string, opts StatusOptions) (*queue.Response, error) {
	interval := opts.pollInterval()
	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for {
		resp, err := s.api.Status(ctx, endpointID, requestID)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.RecordPoll(ctx, endpointID, string(resp.Status))
		}
		if opts.OnQueueUpdate != nil {
			opts.OnQueueUpdate(*resp)
		}
		if resp.Status == queue.StatusCompleted {
			return resp, nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// deriveContext combines the caller's cancellation with the timeout,
// computed once at the start of the subscription.
func deriveContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// cancelled reports any failure that happened while ctx was done as a
// cancellation, whatever layer surfaced it.
func cancelled(ctx context.Context, op string, err error) error {
	if err == nil || errors.Is(err, apperrors.ErrSubscriptionCancelled) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.Cancelled(op, errors.Join(ctxErr, err))
	}
	return err
}

func (s *Subscriber) recordStarted(ctx context.Context, endpointID string) {
	if s.metrics != nil {
		s.metrics.RecordSubscriptionStarted(ctx, endpointID)
	}
}

func (s *Subscriber) recordFinished(ctx context.Context, endpointID string, err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := observability.OutcomeCompleted
	switch {
	case errors.Is(err, apperrors.ErrSubscriptionCancelled):
		outcome = observability.OutcomeCancelled
	case err != nil:
		outcome = observability.OutcomeFailed
	}
	// ctx may already be done; metrics must still be recorded.
	s.metrics.RecordSubscriptionFinished(context.WithoutCancel(ctx), endpointID, outcome, d.Seconds())
}
