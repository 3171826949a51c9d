package dispatcher

import (
	"context"
	"diffusion/pkg/backoff"
	"diffusion/pkg/circuitbreaker"
	"diffusion/pkg/cloudevent"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// terminalWait is how long Dispatch blocks for buffer space before dropping
// a completed or failed event. Progress events never block.
const terminalWait = time.Second

// MemoryDispatcher buffers events in a bounded channel drained by a fixed
// pool of delivery goroutines. Each callback host has its own breaker;
// events for a host whose breaker is open are parked and retried after
// the cooldown.
type MemoryDispatcher struct {
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder receives delivery metrics. Optional.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory starts the delivery pool. Pass a nil recorder to skip metrics.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "dispatcher")

	d := &MemoryDispatcher{
		queue:  make(chan *Event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
			OnStateChange: func(host string, from, to circuitbreaker.State) {
				logger.Info("Callback host breaker changed state", "destination", host, "from", from, "to", to)
			},
		}),
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Dispatcher started",
		"workers", cfg.Workers,
		"buffer", cfg.BufferSize,
		"maxRetries", cfg.MaxRetries,
		"breakerThreshold", cfg.BreakerThreshold,
	)
	return d
}

func (d *MemoryDispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Dispatch enqueues event. A terminal event waits up to terminalWait for
// a free slot; anything else is dropped at once when the buffer is full.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
	}

	if cloudevent.IsTerminal(event.Payload.Type) {
		timer := time.NewTimer(terminalWait)
		defer timer.Stop()
		select {
		case d.queue <- event:
			d.queued.Add(1)
			return nil
		case <-timer.C:
		case <-d.shutdown:
			return ErrClosed
		}
	}

	d.drop(event, extractHost(event.Destination), "buffer full")
	return ErrBufferFull
}

func (d *MemoryDispatcher) Stats() Stats {
	breakerStats := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.queue),
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Requeued:      d.requeued.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
	}
}

// Ready fails while any callback host's breaker is open.
func (d *MemoryDispatcher) Ready(context.Context) error {
	if open := d.breakers.Stats().Open; open > 0 {
		return fmt.Errorf("%d callback host(s) unreachable", open)
	}
	return nil
}

// Close stops intake, lets the pool drain the buffer, and waits for it
// until ctx is done. Parked events are abandoned.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Dispatcher shutting down", "queued", len(d.queue))
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// deliver posts event through its host's breaker. Permanent rejections do
// not count against the breaker.
func (d *MemoryDispatcher) deliver(event *Event) {
	host := extractHost(event.Destination)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := d.breakers.Execute(host, func() error {
		return d.sendWithRetry(ctx, event)
	}, func(err error) bool { return !cloudevent.IsPermanent(err) })

	switch {
	case err == nil:
		d.delivered.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
		}
	case errors.Is(err, circuitbreaker.ErrOpen):
		d.requeue(event, host)
	default:
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Delivery failed",
			"destination", host,
			"type", event.Payload.Type,
			"job", event.Payload.Subject,
			"error", err,
		)
	}
}

// requeue parks event for one breaker cooldown, then puts it back on the
// queue. Events parked defaultMaxRequeues times are dropped.
func (d *MemoryDispatcher) requeue(event *Event, host string) {
	if event.Requeues >= defaultMaxRequeues {
		d.drop(event, host, "max requeues reached")
		return
	}

	event.Requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	go func() {
		timer := time.NewTimer(defaultBreakerCooldown)
		defer timer.Stop()
		select {
		case <-d.shutdown:
			return
		case <-timer.C:
		}

		select {
		case d.queue <- event:
			d.logger.Debug("Event requeued", "destination", host, "type", event.Payload.Type, "requeues", event.Requeues)
		case <-d.shutdown:
		default:
			d.drop(event, host, "buffer full on requeue")
		}
	}()
}

func (d *MemoryDispatcher) drop(event *Event, host, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDropped(context.Background())
	}
	d.logger.Warn("Event dropped",
		"reason", reason,
		"destination", host,
		"type", event.Payload.Type,
		"job", event.Payload.Subject,
		"requeues", event.Requeues,
	)
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, event *Event) error {
	opts := cloudevent.SendOptions{SigningKey: event.SigningKey}
	policy := backoff.Config{Initial: defaultInitialBackoff, Max: defaultMaxBackoff}

	var err error
	for attempt := range d.config.MaxRetries + 1 {
		if attempt > 0 {
			d.retriesTotal.Add(1)
			if sleepErr := backoff.Sleep(ctx, attempt, &policy); sleepErr != nil {
				return errors.Join(sleepErr, err)
			}
		}

		err = d.sender.Send(ctx, event.Destination, event.Payload, opts)
		if err == nil || cloudevent.IsPermanent(err) {
			return err
		}
	}
	return err
}

// extractHost keys breakers by callback host. Hostnames are case-folded
// so one receiver does not get two breakers.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return strings.ToLower(parsed.Host)
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
