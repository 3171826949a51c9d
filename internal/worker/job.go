package worker

import (
	"context"
	"diffusion/internal/apperrors"
	"diffusion/internal/dispatcher"
	"diffusion/internal/intake"
	"diffusion/internal/jobstore"
	"diffusion/internal/models/fastsdxl"
	"diffusion/internal/observability"
	"diffusion/internal/queue"
	"diffusion/internal/subscription"
	"diffusion/pkg/backoff"
	"diffusion/pkg/circuitbreaker"
	"diffusion/pkg/cloudevent"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// job carries the per-request state of one Process call.
type job struct {
	req     *intake.Request
	logger  *slog.Logger
	running bool
}

// Process runs req to completion. Ledger writes and notifications survive
// cancellation of ctx so an interrupted job still ends as failed.
func (w *Worker) Process(ctx context.Context, req *intake.Request) *intake.Result {
	j := &job{req: req, logger: w.logger.With("jobId", req.ID, "endpoint", w.cfg.Endpoint)}
	bg := context.WithoutCancel(ctx)

	if err := w.ledger.Create(bg, req.ID, w.cfg.Endpoint, req.Prompt); err != nil {
		j.logger.Error("Failed to record job", "error", err)
		return &intake.Result{ID: req.ID, Status: intake.ResultFailed, Error: err.Error()}
	}

	input, err := BuildInput(req)
	if err != nil {
		return w.fail(bg, j, "", err)
	}

	result, err := w.run(ctx, j, input)
	if err != nil {
		return w.fail(bg, j, result.RequestID, err)
	}
	return w.complete(bg, j, result)
}

// run subscribes up to MaxAttempts times, backing off between retryable
// failures. An open breaker for the endpoint counts as retryable. Once the
// queue has accepted the job, later attempts resume that request instead
// of submitting it again.
func (w *Worker) run(ctx context.Context, j *job, input fastsdxl.Input) (*queue.Result[fastsdxl.Output], error) {
	var (
		result    *queue.Result[fastsdxl.Output]
		requestID string
		err       error
	)
	statusOpts := subscription.StatusOptions{
		PollInterval:  w.cfg.PollInterval,
		Timeout:       w.cfg.Timeout,
		OnQueueUpdate: func(r queue.Response) { w.progressed(ctx, j, r) },
	}

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if w.metrics != nil {
				w.metrics.RecordJobRetry(ctx, w.cfg.Endpoint)
			}
			j.logger.Info("Retrying job", "attempt", attempt, "requestId", requestID, "error", err)
			if sleepErr := backoff.Sleep(ctx, attempt-1, &w.cfg.Backoff); sleepErr != nil {
				return &queue.Result[fastsdxl.Output]{RequestID: requestID}, apperrors.Cancelled("worker.retry", errors.Join(sleepErr, err))
			}
		}

		if incErr := w.ledger.IncrementAttempts(context.WithoutCancel(ctx), j.req.ID); incErr != nil {
			j.logger.Warn("Failed to record attempt", "error", incErr)
		}

		err = w.breakers.Execute(w.cfg.Endpoint, func() error {
			var subErr error
			if requestID != "" {
				result, subErr = subscription.Resume[fastsdxl.Output](ctx, w.subscriber, w.cfg.Endpoint, requestID, statusOpts)
				return subErr
			}
			result, subErr = subscription.Subscribe[fastsdxl.Input, fastsdxl.Output](ctx, w.subscriber, w.cfg.Endpoint,
				subscription.Options[fastsdxl.Input]{
					Input: input,
					OnEnqueue: func(id string) {
						requestID = id
						w.enqueued(ctx, j, id)
					},
					StatusOptions: statusOpts,
				})
			return subErr
		}, apperrors.Retryable)
		if err == nil {
			return result, nil
		}
		if !apperrors.Retryable(err) && !errors.Is(err, circuitbreaker.ErrOpen) {
			break
		}
	}
	return &queue.Result[fastsdxl.Output]{RequestID: requestID}, err
}

func (w *Worker) enqueued(ctx context.Context, j *job, requestID string) {
	j.logger.Info("Job enqueued", "requestId", requestID)
	if err := w.ledger.SetRequestID(context.WithoutCancel(ctx), j.req.ID, requestID); err != nil {
		j.logger.Warn("Failed to record request id", "error", err)
	}
	w.notify(j, cloudevent.TypeJobEnqueued, map[string]any{
		"jobId":     j.req.ID,
		"requestId": requestID,
		"endpoint":  w.cfg.Endpoint,
	})
}

func (w *Worker) progressed(ctx context.Context, j *job, r queue.Response) {
	j.logger.Debug("Queue update", "requestId", r.RequestID, "status", r.Status)
	if r.Status != queue.StatusInProgress || j.running {
		return
	}
	j.running = true
	if err := w.ledger.UpdateStatus(context.WithoutCancel(ctx), j.req.ID, jobstore.StatusRunning); err != nil {
		j.logger.Warn("Failed to record status", "error", err)
	}
}

func (w *Worker) complete(ctx context.Context, j *job, result *queue.Result[fastsdxl.Output]) *intake.Result {
	out := result.Data
	images := make([]string, 0, len(out.Images))
	for _, img := range out.Images {
		images = append(images, img.URL)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return w.fail(ctx, j, result.RequestID, fmt.Errorf("failed to encode output: %w", err))
	}
	if err := w.ledger.Complete(ctx, j.req.ID, string(raw)); err != nil {
		j.logger.Warn("Failed to record completion", "error", err)
	}
	if w.metrics != nil {
		w.metrics.RecordJobFinished(ctx, w.cfg.Endpoint, observability.OutcomeCompleted)
	}

	j.logger.Info("Job completed", "requestId", result.RequestID, "images", len(images))
	w.notify(j, cloudevent.TypeJobCompleted, map[string]any{
		"jobId":     j.req.ID,
		"requestId": result.RequestID,
		"endpoint":  w.cfg.Endpoint,
		"images":    images,
		"seed":      out.Seed,
	})

	return &intake.Result{
		ID:        j.req.ID,
		RequestID: result.RequestID,
		Status:    intake.ResultCompleted,
		Images:    images,
		Seed:      out.Seed,
	}
}

func (w *Worker) fail(ctx context.Context, j *job, requestID string, cause error) *intake.Result {
	if err := w.ledger.Fail(ctx, j.req.ID, cause.Error()); err != nil {
		j.logger.Warn("Failed to record failure", "error", err)
	}

	outcome := observability.OutcomeFailed
	if errors.Is(cause, apperrors.ErrSubscriptionCancelled) {
		outcome = observability.OutcomeCancelled
	}
	if w.metrics != nil {
		w.metrics.RecordJobFinished(ctx, w.cfg.Endpoint, outcome)
	}

	j.logger.Warn("Job failed", "requestId", requestID, "error", cause)
	w.notify(j, cloudevent.TypeJobFailed, map[string]any{
		"jobId":     j.req.ID,
		"requestId": requestID,
		"endpoint":  w.cfg.Endpoint,
		"error":     cause.Error(),
	})

	return &intake.Result{
		ID:        j.req.ID,
		RequestID: requestID,
		Status:    intake.ResultFailed,
		Error:     cause.Error(),
	}
}

// notify queues a lifecycle event for the request's callback URL, falling
// back to the configured one.
func (w *Worker) notify(j *job, eventType string, data map[string]any) {
	destination := j.req.CallbackURL
	if destination == "" {
		destination = w.cfg.CallbackURL
	}
	if w.dispatcher == nil || destination == "" {
		return
	}

	err := w.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     cloudevent.NewJobEvent(eventType, j.req.ID, data),
		Destination: destination,
		SigningKey:  w.cfg.SigningKey,
	})
	if err != nil {
		j.logger.Warn("Failed to dispatch event", "type", eventType, "error", err)
	}
}

// BuildInput maps an intake request onto the text-to-image input.
func BuildInput(req *intake.Request) (fastsdxl.Input, error) {
	input := fastsdxl.Input{Prompt: req.Prompt, Seed: req.Seed}
	if req.NegativePrompt != "" {
		input.NegativePrompt = fastsdxl.Ptr(req.NegativePrompt)
	}
	if req.NumImages > 0 {
		input.NumImages = fastsdxl.Ptr(req.NumImages)
	}
	if req.ImageSize != "" {
		preset := fastsdxl.Preset(req.ImageSize)
		if !preset.Valid() {
			return fastsdxl.Input{}, fmt.Errorf("unknown image size %q", req.ImageSize)
		}
		input.ImageSize = fastsdxl.Ptr(fastsdxl.PresetSize(preset))
	}
	return input, nil
}
