// Package worker turns intake requests into queue subscriptions, recording
// each job in the ledger and announcing its lifecycle to callback URLs.
package worker

import (
	"context"
	"diffusion/internal/dispatcher"
	"diffusion/internal/intake"
	"diffusion/internal/jobstore"
	"diffusion/internal/models/fastsdxl"
	"diffusion/internal/subscription"
	"diffusion/pkg/backoff"
	"diffusion/pkg/circuitbreaker"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Ledger records job progress. Implemented by *jobstore.Store.
type Ledger interface {
	Create(ctx context.Context, id, endpoint, prompt string) error
	SetRequestID(ctx context.Context, id, requestID string) error
	UpdateStatus(ctx context.Context, id string, status jobstore.Status) error
	IncrementAttempts(ctx context.Context, id string) error
	Complete(ctx context.Context, id, resultJSON string) error
	Fail(ctx context.Context, id, reason string) error
}

// MetricsRecorder is an optional interface for recording job metrics.
type MetricsRecorder interface {
	RecordJobFinished(ctx context.Context, endpoint, outcome string)
	RecordJobRetry(ctx context.Context, endpoint string)
}

// Config holds worker settings. Zero values use defaults.
type Config struct {
	Endpoint      string        // default: fastsdxl.TextToImageEndpoint
	PollInterval  time.Duration // default: subscription.DefaultPollInterval
	Timeout       time.Duration // per attempt; 0 = unbounded
	MaxAttempts   int           // default: 3
	Concurrency   int           // default: 4
	ShutdownGrace time.Duration // in-flight jobs allowed after Run's ctx ends; default: 30s
	CallbackURL   string        // used when a request carries none
	SigningKey    string
	Backoff       backoff.Config
	Breaker       circuitbreaker.Config
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = fastsdxl.TextToImageEndpoint
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.Backoff == (backoff.Config{}) {
		c.Backoff.Jitter = 0.2
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = time.Second
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = 30 * time.Second
	}
	def := circuitbreaker.DefaultConfig()
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = def.Threshold
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = def.Cooldown
	}
	return c
}

// Deps holds the collaborators of a Worker.
type Deps struct {
	Subscriber *subscription.Subscriber
	Ledger     Ledger
	Queue      intake.Queue
	Dispatcher dispatcher.Dispatcher // nil disables notifications
	Metrics    MetricsRecorder
}

// Worker consumes an intake queue with bounded concurrency.
type Worker struct {
	cfg        Config
	subscriber *subscription.Subscriber
	ledger     Ledger
	queue      intake.Queue
	dispatcher dispatcher.Dispatcher
	metrics    MetricsRecorder
	breakers   *circuitbreaker.Registry
	logger     *slog.Logger
}

// New creates a Worker.
func New(cfg Config, deps Deps) *Worker {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "worker")

	breakerCfg := cfg.Breaker
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(endpoint string, from, to circuitbreaker.State) {
			logger.Warn("Endpoint breaker changed state", "endpoint", endpoint, "from", from, "to", to)
		}
	}

	return &Worker{
		cfg:        cfg,
		subscriber: deps.Subscriber,
		ledger:     deps.Ledger,
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		breakers:   circuitbreaker.NewRegistry(breakerCfg),
		logger:     logger,
	}
}

// Run receives requests until ctx is done or the intake is exhausted, then
// waits for in-flight jobs. Cancelling ctx stops intake only; jobs still
// running ShutdownGrace later are cancelled. Receive errors are retried
// with backoff.
func (w *Worker) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	stopGrace := context.AfterFunc(ctx, func() {
		w.logger.Info("Intake stopped, waiting for in-flight jobs", "grace", w.cfg.ShutdownGrace)
		time.AfterFunc(w.cfg.ShutdownGrace, cancelJobs)
	})
	defer stopGrace()

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	w.logger.Info("Worker started", "endpoint", w.cfg.Endpoint, "concurrency", w.cfg.Concurrency)

	failures := 0
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		req, err := w.queue.Receive(ctx)
		if err != nil {
			<-sem
			switch {
			case errors.Is(err, intake.ErrExhausted):
				w.logger.Info("Intake exhausted, waiting for in-flight jobs")
				return nil
			case ctx.Err() != nil:
				return nil
			}

			failures++
			w.logger.Warn("Intake receive failed", "error", err, "failures", failures)
			if err := backoff.Sleep(ctx, failures, &w.cfg.Backoff); err != nil {
				return nil
			}
			continue
		}
		failures = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.Handle(jobCtx, req)
		}()
	}
}

// Handle processes one request and publishes its result to the intake sink.
func (w *Worker) Handle(ctx context.Context, req *intake.Request) *intake.Result {
	result := w.Process(ctx, req)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.queue.Publish(pubCtx, result); err != nil {
		w.logger.Error("Failed to publish result", "jobId", req.ID, "error", err)
	}
	return result
}
