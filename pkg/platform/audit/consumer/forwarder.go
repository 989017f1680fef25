package consumer

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultFlushBatch    = 100
)

// SecuritySink receives batches of security events, typically a SIEM ingest
// endpoint.
type SecuritySink interface {
	Ship(ctx context.Context, events []Envelope) error
}

// Forwarder drains the security ring buffer into a sink in batches. A circuit
// breaker backs off when the sink is unhealthy; undelivered batches go back
// into the buffer.
type Forwarder struct {
	buffer   *RingBuffer
	sink     SecuritySink
	breaker  *CircuitBreaker
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

// ForwarderOption configures the Forwarder.
type ForwarderOption func(*Forwarder)

// WithFlushInterval overrides the flush interval.
func WithFlushInterval(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.interval = d
	}
}

// WithFlushBatch overrides the per-flush batch size.
func WithFlushBatch(n int) ForwarderOption {
	return func(f *Forwarder) {
		f.batch = n
	}
}

// WithMetrics wires pipeline metrics into the forwarder.
func WithMetrics(m *Metrics) ForwarderOption {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// NewForwarder builds a forwarder over a shared buffer.
func NewForwarder(buffer *RingBuffer, sink SecuritySink, breaker *CircuitBreaker, logger *slog.Logger, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		buffer:   buffer,
		sink:     sink,
		breaker:  breaker,
		logger:   logger,
		interval: defaultFlushInterval,
		batch:    defaultFlushBatch,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run flushes on a ticker until the context is cancelled, then attempts one
// final flush.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush ships one batch if the circuit allows it.
func (f *Forwarder) Flush(ctx context.Context) {
	if !f.breaker.Allow() {
		f.metrics.SetBreakerOpen(true)
		return
	}

	batch := f.buffer.DequeueBatch(f.batch)
	if len(batch) == 0 {
		return
	}

	if err := f.sink.Ship(ctx, batch); err != nil {
		f.breaker.RecordFailure()
		f.metrics.IncForwardErrors()
		f.metrics.SetBreakerOpen(f.breaker.IsOpen())
		f.logger.WarnContext(ctx, "security forwarding failed, batch requeued",
			"batch", len(batch), "error", err.Error())
		// Requeue so the events retry once the sink recovers. Under sustained
		// outage the ring sheds oldest-first, which the durable store covers.
		for _, env := range batch {
			f.buffer.Enqueue(env)
		}
		return
	}

	f.breaker.RecordSuccess()
	f.metrics.SetBreakerOpen(false)
	f.metrics.AddForwarded(len(batch))
}
