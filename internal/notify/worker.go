package notify

import (
	"context"
	"log/slog"
	"time"

	"caseguard/pkg/email"
)

const defaultIdleWait = time.Second

// Sender delivers a rendered notice to a recipient. The production sender is
// an outbound mail or messaging gateway; tests use a recorder.
type Sender interface {
	Send(ctx context.Context, recipientID string, notice email.Notice) error
}

// LogSender writes notices to the log. It is the default delivery transport
// until an outbound gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, recipientID string, notice email.Notice) error {
	s.Logger.InfoContext(ctx, "notification delivered",
		"recipient_id", recipientID,
		"subject", notice.Subject,
	)
	return nil
}

// Worker drains the queue and delivers notices. Delivery failures are logged
// and the message dropped; notifications are best-effort by contract.
type Worker struct {
	queue  Queue
	sender Sender
	logger *slog.Logger
}

func NewWorker(queue Queue, sender Sender, logger *slog.Logger) *Worker {
	return &Worker{queue: queue, sender: sender, logger: logger}
}

// Run consumes until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.logger.WarnContext(ctx, "notification dequeue failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(defaultIdleWait):
			}
			continue
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(defaultIdleWait):
			}
			continue
		}
		w.deliver(ctx, *msg)
	}
}

func (w *Worker) deliver(ctx context.Context, msg Message) {
	var notice email.Notice
	switch msg.Type {
	case TypeApprovalRequested:
		notice = email.RenderApprovalRequested(msg.ErasureRequestID.String())
	case TypeRequestDeadlocked:
		notice = email.RenderDeadlocked(msg.ErasureRequestID.String())
	case TypeRequestResolved:
		notice = email.RenderResolved(msg.ErasureRequestID.String(), msg.Outcome)
	default:
		w.logger.WarnContext(ctx, "unknown notification type dropped", "type", string(msg.Type))
		return
	}

	if err := w.sender.Send(ctx, msg.RecipientID.String(), notice); err != nil {
		w.logger.WarnContext(ctx, "notification delivery failed",
			"type", string(msg.Type),
			"recipient_id", msg.RecipientID,
			"error", err.Error(),
		)
	}
}
