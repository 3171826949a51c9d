package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all client and worker metrics:
// - Outbound HTTP: latency, traffic and errors per queue/storage operation
// - Subscriptions: throughput, failures, duration and in-flight count
// - Worker: jobs taken from intake and retried attempts
// - Dispatcher: notification delivery
type Metrics struct {
	meter metric.Meter

	// Outbound HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Subscription metrics
	SubscriptionDuration    metric.Float64Histogram
	SubscriptionsTotal      metric.Int64Counter
	SubscriptionErrorsTotal metric.Int64Counter
	SubscriptionsActive     metric.Int64UpDownCounter
	PollsTotal              metric.Int64Counter
	UploadsTotal            metric.Int64Counter
	UploadBytesTotal        metric.Int64Counter

	// Worker metrics
	JobsTotal       metric.Int64Counter
	JobRetriesTotal metric.Int64Counter

	// Dispatcher metrics
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("diffusion")
	m := &Metrics{meter: meter}

	// Outbound HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"client_http_request_duration_seconds",
		metric.WithDescription("Outbound HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"client_http_requests_total",
		metric.WithDescription("Total number of outbound HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"client_http_errors_total",
		metric.WithDescription("Total number of outbound HTTP failures (network, 4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Subscription metrics
	m.SubscriptionDuration, err = meter.Float64Histogram(
		"subscription_duration_seconds",
		metric.WithDescription("Time from submit to result in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubscriptionsTotal, err = meter.Int64Counter(
		"subscriptions_total",
		metric.WithDescription("Total number of subscriptions started"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubscriptionErrorsTotal, err = meter.Int64Counter(
		"subscription_errors_total",
		metric.WithDescription("Total number of subscriptions that ended without a result"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SubscriptionsActive, err = meter.Int64UpDownCounter(
		"subscriptions_active",
		metric.WithDescription("Number of subscriptions currently waiting on the queue"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollsTotal, err = meter.Int64Counter(
		"subscription_polls_total",
		metric.WithDescription("Total number of status polls"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UploadsTotal, err = meter.Int64Counter(
		"storage_uploads_total",
		metric.WithDescription("Total number of payloads uploaded to storage"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.UploadBytesTotal, err = meter.Int64Counter(
		"storage_upload_bytes_total",
		metric.WithDescription("Total bytes uploaded to storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Worker metrics
	m.JobsTotal, err = meter.Int64Counter(
		"worker_jobs_total",
		metric.WithDescription("Total number of jobs finished by the worker"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobRetriesTotal, err = meter.Int64Counter(
		"worker_job_retries_total",
		metric.WithDescription("Total number of resubmissions after retryable failures"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Notification delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records one outbound HTTP exchange. A zero statusCode
// means the request never got a response.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, op, method string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		opAttr(op),
		methodAttr(method),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode == 0 || statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSubscriptionStarted records a subscription entering the queue.
func (m *Metrics) RecordSubscriptionStarted(ctx context.Context, endpoint string) {
	attrs := metric.WithAttributes(endpointAttr(endpoint))
	m.SubscriptionsTotal.Add(ctx, 1, attrs)
	m.SubscriptionsActive.Add(ctx, 1, attrs)
}

// RecordSubscriptionFinished records a subscription ending, with or without a result.
func (m *Metrics) RecordSubscriptionFinished(ctx context.Context, endpoint, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(endpointAttr(endpoint), outcomeAttr(outcome))
	m.SubscriptionDuration.Record(ctx, durationSeconds, attrs)
	m.SubscriptionsActive.Add(ctx, -1, metric.WithAttributes(endpointAttr(endpoint)))

	if outcome != OutcomeCompleted {
		m.SubscriptionErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordPoll records one status observation.
func (m *Metrics) RecordPoll(ctx context.Context, endpoint, status string) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(endpointAttr(endpoint), queueStatusAttr(status)))
}

// RecordUpload records a payload uploaded to storage.
func (m *Metrics) RecordUpload(ctx context.Context, bytes int) {
	m.UploadsTotal.Add(ctx, 1)
	m.UploadBytesTotal.Add(ctx, int64(bytes))
}

// RecordJobFinished records a job leaving the worker.
func (m *Metrics) RecordJobFinished(ctx context.Context, endpoint, outcome string) {
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(endpointAttr(endpoint), outcomeAttr(outcome)))
}

// RecordJobRetry records a resubmission.
func (m *Metrics) RecordJobRetry(ctx context.Context, endpoint string) {
	m.JobRetriesTotal.Add(ctx, 1, metric.WithAttributes(endpointAttr(endpoint)))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
