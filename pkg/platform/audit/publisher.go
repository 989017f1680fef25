package audit

import (
	"context"
	"log/slog"
	"time"

	dErrors "caseguard/pkg/domain-errors"
)

// Publisher emits audit events with synchronous, fail-closed semantics.
// Emit blocks until the event is durably persisted; if the write fails, an
// error is returned and the calling operation MUST fail. Governance execution
// depends on this: no destructive mutation may proceed without a durable
// audit record already written.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a fail-closed publisher over the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit persists one event. The event category is always derived from the
// action; callers cannot downgrade an event's category.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = AuditEvent(event.Action).Category()

	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit append failed",
				"action", event.Action,
				"error", err.Error(),
			)
		}
		return dErrors.Wrap(err, dErrors.CodeAuditWriteFailed, "audit event not persisted")
	}
	return nil
}

// Written reports whether an event with the given dedupe key is already
// durable. Retry paths call this before re-emitting.
func (p *Publisher) Written(ctx context.Context, dedupeKey string) (bool, error) {
	ok, err := p.store.HasKey(ctx, dedupeKey)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeAuditWriteFailed, "audit lookup failed")
	}
	return ok, nil
}
