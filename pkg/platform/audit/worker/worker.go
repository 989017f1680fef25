// Package worker relays committed outbox rows to Kafka.
//
// Durability lives in the audit_events/outbox tables; Kafka is downstream
// fan-out for SIEM and retention pipelines. The relay is therefore allowed to
// lag or retry freely without affecting governance semantics.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = time.Second
)

// Relay polls the outbox table and publishes entries to the audit topic.
type Relay struct {
	db       *sql.DB
	client   *kgo.Client
	topic    string
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithPollInterval overrides the outbox poll interval.
func WithPollInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.interval = d
	}
}

// WithBatchSize overrides the per-poll row limit.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		r.batch = n
	}
}

// NewRelay builds an outbox relay publishing to topic.
func NewRelay(db *sql.DB, client *kgo.Client, topic string, logger *slog.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		db:       db,
		client:   client,
		topic:    topic,
		logger:   logger,
		interval: defaultPollInterval,
		batch:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureTopic creates the audit topic if the cluster does not have it yet.
func (r *Relay) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(r.client)
	_, err := adm.CreateTopic(ctx, partitions, replication, nil, r.topic)
	if err != nil && !isTopicExists(err) {
		return fmt.Errorf("create audit topic: %w", err)
	}
	return nil
}

func isTopicExists(err error) bool {
	// kadm returns kerr.TopicAlreadyExists wrapped; string match keeps kerr
	// out of the import set.
	return err != nil && (strings.Contains(err.Error(), "TOPIC_ALREADY_EXISTS") ||
		strings.Contains(err.Error(), "already exists"))
}

// Run polls until the context is cancelled. Failed publishes leave the outbox
// row unmarked so the next poll retries it.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.logger.WarnContext(ctx, "outbox relay pass failed", "error", err.Error())
			}
		}
	}
}

type outboxRow struct {
	id          string
	aggregateID string
	payload     []byte
}

func (r *Relay) drainOnce(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, r.batch)
	if err != nil {
		return fmt.Errorf("select outbox rows: %w", err)
	}
	defer rows.Close()

	var pending []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.aggregateID, &row.payload); err != nil {
			return fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}

	for _, row := range pending {
		record := &kgo.Record{
			Topic: r.topic,
			// Key by aggregate so per-client event order survives partitioning.
			Key:   []byte(row.aggregateID),
			Value: row.payload,
		}
		if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return fmt.Errorf("produce outbox row %s: %w", row.id, err)
		}
		if _, err := r.db.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id = $2`, time.Now(), row.id,
		); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}
