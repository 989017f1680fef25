package consumer

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Consumer polls the audit topic and dispatches decoded envelopes through a
// Router. The kgo client is expected to be configured with a consumer group,
// the audit topic, and auto-commit disabled; the Consumer commits a record
// only after its handler returns nil.
type Consumer struct {
	client *kgo.Client
	router *Router
	logger *slog.Logger
}

// New builds a Consumer over a configured kgo client.
func New(client *kgo.Client, router *Router, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, router: router, logger: logger}
}

// Run polls until the context is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "audit fetch error",
				"topic", topic, "partition", partition, "error", err.Error())
		})

		var handled []*kgo.Record
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			if err := c.handle(ctx, record); err != nil {
				// Stop before committing past the failure; the group
				// redelivers from here on the next poll.
				c.logger.ErrorContext(ctx, "audit event handling failed",
					"key", string(record.Key), "error", err.Error())
				break
			}
			handled = append(handled, record)
		}
		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil {
				c.logger.WarnContext(ctx, "audit offset commit failed", "error", err.Error())
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	env, err := Decode(record.Value)
	if err != nil {
		// A payload that cannot be decoded never will be; commit past it.
		c.logger.WarnContext(ctx, "undecodable audit payload, skipping",
			"key", string(record.Key), "error", err.Error())
		return nil
	}
	return c.router.Handle(ctx, env)
}
