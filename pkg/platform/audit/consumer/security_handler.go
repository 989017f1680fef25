package consumer

import (
	"context"
	"log/slog"

	"caseguard/pkg/platform/audit"
)

// Severity grades a security event for downstream alerting.
type Severity string

const (
	SeverityNotice Severity = "notice"
	SeverityAlert  Severity = "alert"
)

// severityFor grades security actions. Fallback approvals and deadlocks mean
// the normal approval chain was bypassed or broken, which an on-call human
// should see immediately.
func severityFor(action string) Severity {
	switch audit.AuditEvent(action) {
	case audit.EventErasureFallbackApproved, audit.EventErasureDeadlocked:
		return SeverityAlert
	default:
		return SeverityNotice
	}
}

// SecurityHandler buffers security-category events for SIEM forwarding.
// It never fails a record: the ring buffer absorbs bursts and sheds the
// oldest events under sustained pressure, which is acceptable because the
// durable copy survives in audit_events.
type SecurityHandler struct {
	buffer *RingBuffer
	logger *slog.Logger
}

// NewSecurityHandler creates a security event handler over a shared buffer.
func NewSecurityHandler(buffer *RingBuffer, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{buffer: buffer, logger: logger}
}

// Handle grades and buffers one security event.
func (h *SecurityHandler) Handle(ctx context.Context, env *Envelope) error {
	severity := severityFor(env.Action)
	if severity == SeverityAlert {
		h.logger.WarnContext(ctx, "security alert event",
			"event_id", env.EventID,
			"action", env.Action,
			"actor_id", env.ActorID,
			"request_id", env.RequestID,
		)
	}
	h.buffer.Enqueue(*env)
	return nil
}
