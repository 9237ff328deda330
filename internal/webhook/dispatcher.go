package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"advsandbox/internal/attack"
	"advsandbox/internal/observability"
	"advsandbox/pkg/backoff"
	"advsandbox/pkg/circuitbreaker"
)

// ErrBufferFull is returned when the dispatcher's buffer is full and the
// delivery is dropped.
var ErrBufferFull = errors.New("webhook buffer full, delivery dropped")

// Event is one callback delivery.
type Event struct {
	Payload     *Payload
	Destination string
	Requeues    int // times requeued due to open circuit (internal use)
}

// Dispatcher delivers callbacks asynchronously. Deliveries are queued in
// a bounded channel and sent by a worker pool, so a slow or dead
// callback endpoint never blocks job completion. Each delivery gets a
// fixed number of attempts with exponential backoff; hosts that keep
// failing are circuit-broken.
type Dispatcher struct {
	queue    chan *Event
	sender   *Sender
	breakers *circuitbreaker.Registry
	config   Config
	logger   *slog.Logger
	metrics  *observability.Metrics

	resultBaseURL string

	// Internal counters (for Stats())
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

// NewDispatcher creates a dispatcher and starts its worker pool.
// metrics may be nil.
func NewDispatcher(cfg Config, resultBaseURL string, metrics *observability.Metrics) *Dispatcher {
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		queue:  make(chan *Event, cfg.BufferSize),
		sender: NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		config:        cfg,
		logger:        slog.With("component", "webhook"),
		metrics:       metrics,
		resultBaseURL: resultBaseURL,
		shutdown:      make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	if metrics != nil {
		go d.reportQueueSize()
	}

	d.logger.Info("Webhook dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// Notify queues a callback for a terminal record. Drops are logged, not
// surfaced: the job itself already finished.
func (d *Dispatcher) Notify(rec *attack.Record, callbackURL string) {
	event := &Event{
		Payload:     NewPayload(rec, d.resultBaseURL),
		Destination: callbackURL,
	}
	if err := d.Dispatch(event); err != nil {
		d.logger.Warn("Callback not queued", "attackId", rec.ID, "error", err)
	}
}

// Dispatch queues an event for async delivery. Non-blocking.
func (d *Dispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return fmt.Errorf("webhook dispatcher is closed")
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		d.logger.Warn("Delivery dropped, buffer full",
			"destination", extractHost(event.Destination),
			"event", event.Payload.EventType,
		)
		return ErrBufferFull
	}
}

// reportQueueSize periodically reports the queue size metric.
func (d *Dispatcher) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordWebhookQueueSize(context.Background(), int64(len(d.queue)))
		}
	}
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total deliveries queued
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after all attempts
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64 // total failed attempts
	BreakersTotal int   // total circuit breakers
	BreakersOpen  int   // currently open breakers
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
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

// Close gracefully shuts down the dispatcher, draining queued
// deliveries until the context deadline.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil // already closed
	}

	d.logger.Info("Webhook dispatcher shutting down", "queued", len(d.queue))

	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Webhook dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Webhook dispatcher shutdown timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

// worker processes deliveries from the queue.
func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// drainQueue delivers remaining events after the shutdown signal.
func (d *Dispatcher) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver attempts a delivery with retries, guarded by the host's
// circuit breaker.
func (d *Dispatcher) deliver(event *Event) {
	host := extractHost(event.Destination)
	breaker := d.breakers.Get(host)

	if !breaker.Allow() {
		d.requeue(event, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	start := time.Now()
	if err := d.sendWithRetry(ctx, event, host); err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordWebhookFailure(ctx, host)
		}
		d.logger.Error("Callback delivery failed after all attempts",
			"destination", host, "attackId", event.Payload.AttackID, "attempts", d.config.MaxRetries, "error", err)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordWebhookSuccess(ctx, host, time.Since(start).Seconds())
	}
}

// requeue puts an event back in the queue after a delay when the
// circuit is open.
func (d *Dispatcher) requeue(event *Event, host string) {
	if event.Requeues >= defaultMaxRequeues {
		d.dropped.Add(1)
		d.logger.Warn("Delivery dropped, max requeues reached",
			"destination", host,
			"attackId", event.Payload.AttackID,
			"requeues", event.Requeues,
		)
		return
	}

	event.Requeues++
	requeues := event.Requeues // capture for goroutine
	d.requeued.Add(1)

	// Requeue after the cooldown period so the circuit has time to
	// recover.
	go func() {
		select {
		case <-d.shutdown:
			return
		case <-time.After(defaultBreakerCooldown):
		}

		select {
		case d.queue <- event:
			d.logger.Debug("Delivery requeued", "destination", host, "requeues", requeues)
		case <-d.shutdown:
		default:
			d.dropped.Add(1)
			d.logger.Warn("Delivery dropped on requeue, buffer full", "destination", host)
		}
	}()
}

// sendWithRetry makes exactly MaxRetries attempts. Every failed attempt
// counts as a retry; the wait before attempt n+1 doubles each time.
func (d *Dispatcher) sendWithRetry(ctx context.Context, event *Event, host string) error {
	var lastErr error
	for attempt := 1; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt-1, backoff.Config{Initial: d.config.RetryDelay})):
			}
		}

		if d.metrics != nil {
			d.metrics.RecordWebhookAttempt(ctx, host)
		}
		lastErr = d.sender.Send(ctx, event.Destination, event.Payload, d.config.SigningKey)
		if lastErr == nil {
			return nil
		}

		d.retriesTotal.Add(1)
		if d.metrics != nil {
			d.metrics.RecordWebhookRetry(ctx, host)
		}
		d.logger.Warn("Callback attempt failed",
			"destination", host, "attackId", event.Payload.AttackID, "attempt", attempt, "error", lastErr)
	}
	return lastErr
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Verify Dispatcher satisfies the attack service's notifier contract.
var _ attack.Notifier = (*Dispatcher)(nil)
