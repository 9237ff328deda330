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

// Metrics holds all application metrics. It is constructed once at
// service start and passed by reference to every component that records
// measurements; there is no ambient global state.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Attack job metrics
	AttackDuration metric.Float64Histogram
	AttacksTotal   metric.Int64Counter
	AttacksFailed  metric.Int64Counter
	AttacksActive  metric.Int64UpDownCounter

	// Model cache metrics
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter

	// Webhook delivery metrics
	WebhookAttempts  metric.Int64Counter
	WebhookSuccesses metric.Int64Counter
	WebhookRetries   metric.Int64Counter
	WebhookFailures  metric.Int64Counter
	WebhookDuration  metric.Float64Histogram
	WebhookQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("attack-service")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AttackDuration, err = meter.Float64Histogram(
		"attack_duration_seconds",
		metric.WithDescription("Attack execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AttacksTotal, err = meter.Int64Counter(
		"attacks_total",
		metric.WithDescription("Total number of attacks launched"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AttacksFailed, err = meter.Int64Counter(
		"attacks_failed_total",
		metric.WithDescription("Total number of attacks that ended in the failed state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AttacksActive, err = meter.Int64UpDownCounter(
		"attacks_active",
		metric.WithDescription("Number of attack workers currently running (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"model_cache_hits_total",
		metric.WithDescription("Total model cache hits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"model_cache_misses_total",
		metric.WithDescription("Total model cache misses (every put counts as a deferred miss+load)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheEvictions, err = meter.Int64Counter(
		"model_cache_evictions_total",
		metric.WithDescription("Total model cache evictions"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WebhookAttempts, err = meter.Int64Counter(
		"webhook_deliveries_total",
		metric.WithDescription("Total webhook delivery attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WebhookSuccesses, err = meter.Int64Counter(
		"webhook_successful_deliveries_total",
		metric.WithDescription("Total successful webhook deliveries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WebhookRetries, err = meter.Int64Counter(
		"webhook_retries_total",
		metric.WithDescription("Total webhook delivery attempts that failed and were retried"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WebhookFailures, err = meter.Int64Counter(
		"webhook_failed_deliveries_total",
		metric.WithDescription("Total webhook deliveries abandoned after all retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WebhookDuration, err = meter.Float64Histogram(
		"webhook_delivery_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WebhookQueueSize, err = meter.Int64Gauge(
		"webhook_queue_size",
		metric.WithDescription("Current number of events in the webhook delivery queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordAttackLaunched records a new attack being launched.
func (m *Metrics) RecordAttackLaunched(ctx context.Context, modelID, methodID string) {
	attrs := metric.WithAttributes(modelAttr(modelID), attackMethodAttr(methodID))
	m.AttacksTotal.Add(ctx, 1, attrs)
	m.AttacksActive.Add(ctx, 1, metric.WithAttributes(modelAttr(modelID)))
}

// RecordAttackFinished records an attack reaching a terminal state.
func (m *Metrics) RecordAttackFinished(ctx context.Context, modelID string, failed bool, durationSeconds float64) {
	m.AttackDuration.Record(ctx, durationSeconds, metric.WithAttributes(modelAttr(modelID), failedAttr(failed)))
	m.AttacksActive.Add(ctx, -1, metric.WithAttributes(modelAttr(modelID)))

	if failed {
		m.AttacksFailed.Add(ctx, 1, metric.WithAttributes(modelAttr(modelID)))
	}
}

// RecordCacheHit records a model cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context, modelID string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(modelAttr(modelID)))
}

// RecordCacheMiss records a model cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context, modelID string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(modelAttr(modelID)))
}

// RecordCacheEviction records a model handle being evicted.
func (m *Metrics) RecordCacheEviction(ctx context.Context, modelID string) {
	m.CacheEvictions.Add(ctx, 1, metric.WithAttributes(modelAttr(modelID)))
}

// RecordWebhookAttempt records a single delivery attempt.
func (m *Metrics) RecordWebhookAttempt(ctx context.Context, host string) {
	m.WebhookAttempts.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
}

// RecordWebhookSuccess records a delivery that returned success.
func (m *Metrics) RecordWebhookSuccess(ctx context.Context, host string, durationSeconds float64) {
	m.WebhookSuccesses.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
	m.WebhookDuration.Record(ctx, durationSeconds, metric.WithAttributes(hostAttr(host)))
}

// RecordWebhookRetry records a failed attempt that will be (or was) retried.
func (m *Metrics) RecordWebhookRetry(ctx context.Context, host string) {
	m.WebhookRetries.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
}

// RecordWebhookFailure records a delivery abandoned after all retries.
func (m *Metrics) RecordWebhookFailure(ctx context.Context, host string) {
	m.WebhookFailures.Add(ctx, 1, metric.WithAttributes(hostAttr(host)))
}

// RecordWebhookQueueSize records the current delivery queue depth.
func (m *Metrics) RecordWebhookQueueSize(ctx context.Context, size int64) {
	m.WebhookQueueSize.Record(ctx, size)
}
