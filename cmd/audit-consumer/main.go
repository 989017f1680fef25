package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"caseguard/internal/platform/config"
	"caseguard/internal/platform/logger"
	"caseguard/pkg/platform/audit"
	"caseguard/pkg/platform/audit/consumer"
)

const consumerGroup = "caseguard-audit-consumer"

// main runs the downstream side of the audit pipeline: it consumes relayed
// events and fans them out by category. Compliance events land in a JSONL
// retention archive, security events are batched toward the SIEM sink, ops
// events become sampled logs and counters.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if len(cfg.Kafka.Brokers) == 0 {
		log.Error("KAFKA_BROKERS is required")
		os.Exit(1)
	}

	archivePath := os.Getenv("AUDIT_ARCHIVE_PATH")
	if archivePath == "" {
		archivePath = "audit-compliance.jsonl"
	}
	archive, err := newJSONLArchive(archivePath)
	if err != nil {
		log.Error("failed to open compliance archive", "path", archivePath, "error", err.Error())
		os.Exit(1)
	}
	defer archive.Close()

	sampleRate := 1.0
	if raw := os.Getenv("OPS_SAMPLE_RATE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			sampleRate = v
		}
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.ConsumeTopics(cfg.Kafka.AuditTopic),
		kgo.ConsumerGroup(consumerGroup),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		log.Error("failed to create kafka client", "error", err.Error())
		os.Exit(1)
	}
	defer client.Close()

	pipelineMetrics := consumer.NewMetrics()
	buffer := consumer.NewRingBuffer(10000)
	breaker := consumer.NewCircuitBreaker(5, time.Minute)
	forwarder := consumer.NewForwarder(buffer, logSink{logger: log}, breaker, log,
		consumer.WithMetrics(pipelineMetrics))

	ops := consumer.NewOpsHandler(consumer.NewSampler(sampleRate), pipelineMetrics, log)
	router := consumer.NewRouter(log, ops)
	router.Register(audit.CategoryCompliance, consumer.NewComplianceHandler(archive, log))
	router.Register(audit.CategorySecurity, consumer.NewSecurityHandler(buffer, log))
	router.Register(audit.CategoryOperations, ops)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consumer.New(client, router, log).Run(ctx)
	})
	group.Go(func() error {
		if err := forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	log.Info("audit consumer started",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.AuditTopic,
		"archive", archivePath,
	)
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("audit consumer stopped", "error", err.Error())
		os.Exit(1)
	}
	log.Info("audit consumer stopped")
}

// jsonlArchive appends compliance envelopes to a line-delimited JSON file.
// Retention tooling rotates and ships the file out of band.
type jsonlArchive struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func newJSONLArchive(path string) (*jsonlArchive, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &jsonlArchive{file: file, enc: json.NewEncoder(file)}, nil
}

func (a *jsonlArchive) Archive(_ context.Context, env *consumer.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enc.Encode(env)
}

func (a *jsonlArchive) Close() error {
	return a.file.Close()
}

// logSink stands in for a SIEM ingest endpoint.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Ship(ctx context.Context, events []consumer.Envelope) error {
	for _, env := range events {
		s.logger.InfoContext(ctx, "security audit event",
			"event_id", env.EventID,
			"action", env.Action,
			"actor_id", env.ActorID,
			"request_id", env.RequestID,
		)
	}
	return nil
}
