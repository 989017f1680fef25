package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"caseguard/internal/boundary"
	clienthandler "caseguard/internal/client/handler"
	clientservice "caseguard/internal/client/service"
	clientstore "caseguard/internal/client/store/client"
	erasurehandler "caseguard/internal/erasure/handler"
	erasureservice "caseguard/internal/erasure/service"
	erasurestore "caseguard/internal/erasure/store/erasure"
	"caseguard/internal/jwtauth"
	"caseguard/internal/match"
	"caseguard/internal/notify"
	"caseguard/internal/platform/config"
	"caseguard/internal/platform/database"
	"caseguard/internal/platform/httpserver"
	"caseguard/internal/platform/logger"
	"caseguard/internal/platform/metrics"
	platformredis "caseguard/internal/platform/redis"
	programhandler "caseguard/internal/program/handler"
	programservice "caseguard/internal/program/service"
	programstore "caseguard/internal/program/store/program"
	reporthandler "caseguard/internal/report/handler"
	reportservice "caseguard/internal/report/service"
	scopehandler "caseguard/internal/scope/handler"
	scopeservice "caseguard/internal/scope/service"
	blockstore "caseguard/internal/scope/store/block"
	rolestore "caseguard/internal/scope/store/role"
	"caseguard/pkg/fieldcrypt"
	"caseguard/pkg/platform/audit"
	auditpg "caseguard/pkg/platform/audit/store/postgres"
	auditworker "caseguard/pkg/platform/audit/worker"
	"caseguard/pkg/platform/tx"
)

// main wires stores, services and handlers and runs the HTTP server plus the
// background workers. Business rules live in the internal service packages;
// nothing here makes an access decision.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if cfg.Database.URL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Error("failed to open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Error("database unreachable", "error", err.Error())
		os.Exit(1)
	}
	if err := database.Apply(pingCtx, db); err != nil {
		log.Error("failed to apply schema", "error", err.Error())
		os.Exit(1)
	}

	codec, err := buildCodec(cfg, log)
	if err != nil {
		log.Error("failed to build field codec", "error", err.Error())
		os.Exit(1)
	}

	m := metrics.New()
	publisher := audit.NewPublisher(auditpg.New(db), audit.WithLogger(log))

	roleStore := rolestore.NewPostgres(db)
	blockStore := blockstore.NewPostgres(db)
	programStore := programstore.NewPostgres(db)
	clientStore := clientstore.NewPostgres(db)
	erasureStore := erasurestore.NewPostgres(db)

	scopeSvc := scopeservice.New(roleStore, blockStore, programStore, publisher, scopeservice.WithLogger(log))
	bnd := boundary.New(scopeSvc, programStore, cfg.SuppressionThreshold,
		boundary.WithLogger(log), boundary.WithMetrics(m))
	matcher := match.New(clientStore, match.WithLogger(log))
	programSvc := programservice.New(programStore, publisher, programservice.WithLogger(log))
	clientSvc := clientservice.New(clientStore, bnd, matcher, programStore, codec, publisher,
		clientservice.WithLogger(log), clientservice.WithMetrics(m))

	queue, redisClient, err := buildQueue(cfg, log)
	if err != nil {
		log.Error("failed to connect notification queue", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	erasureSvc := erasureservice.New(erasureStore, clientStore, bnd, scopeSvc, publisher, queue,
		erasureservice.WithLogger(log), erasureservice.WithMetrics(m),
		erasureservice.WithTxRunner(tx.NewSQLRunner(db)))
	reportSvc := reportservice.New(clientStore, bnd, programStore, reportservice.WithLogger(log))

	jwtSvc := jwtauth.NewJWTService(cfg.JWTSigningKey, "caseguard", "caseguard")
	validator := jwtauth.NewJWTServiceAdapter(jwtSvc)

	router := chi.NewRouter()
	programhandler.New(programSvc, log, m, cfg.AdminToken).Register(router)
	scopehandler.New(scopeSvc, log, m, validator, cfg.AdminToken).Register(router)
	clienthandler.New(clientSvc, log, m, validator).Register(router)
	erasurehandler.New(erasureSvc, log, m, validator).Register(router)
	reporthandler.New(reportSvc, log, m, validator).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting caseguard", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := notify.NewWorker(queue, notify.LogSender{Logger: log}, log).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			log.Error("failed to build kafka client", "error", err.Error())
			os.Exit(1)
		}
		defer kafkaClient.Close()
		relay := auditworker.NewRelay(db, kafkaClient, cfg.Kafka.AuditTopic, log)
		g.Go(func() error {
			err := relay.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		log.Warn("kafka brokers not configured, audit outbox relay disabled")
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildCodec selects the at-rest identity codec. Without a key the sealed
// blob is stored as-is, which is only acceptable in development.
func buildCodec(cfg config.Server, log *slog.Logger) (fieldcrypt.Codec, error) {
	if cfg.FieldKeyHex == "" {
		log.Warn("FIELD_ENCRYPTION_KEY not set, storing identity blobs unencrypted")
		return fieldcrypt.Plain{}, nil
	}
	key, err := hex.DecodeString(cfg.FieldKeyHex)
	if err != nil {
		return nil, err
	}
	return fieldcrypt.NewAESGCM(key)
}

// buildQueue prefers Redis when configured and falls back to the in-process
// queue. Notifications are best-effort either way.
func buildQueue(cfg config.Server, log *slog.Logger) (notify.Queue, *platformredis.Client, error) {
	client, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Warn("REDIS_URL not set, notifications use the in-process queue")
		return notify.NewInMemoryQueue(), nil, nil
	}
	return notify.NewRedisQueue(client), client, nil
}
