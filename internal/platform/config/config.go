package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	AdminToken    string

	// SuppressionThreshold is the small-cell suppression cut-off: program
	// counts below this value are reported as "< threshold". It is fixed
	// server-side and never caller-supplied.
	SuppressionThreshold int

	// FieldKeyHex configures the external field-encryption codec. Empty means
	// a pass-through codec, which is only acceptable in development.
	FieldKeyHex string

	Database Database
	Redis    RedisConfig
	Kafka    Kafka
}

// Database holds PostgreSQL connection settings.
type Database struct {
	URL string
}

// RedisConfig holds the best-effort notification queue settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka holds audit outbox relay settings. Empty brokers disables the relay;
// durability does not depend on it.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// DefaultSuppressionThreshold mirrors the governance requirement: aggregate
// counts under ten are never shown exactly.
const DefaultSuppressionThreshold = 10

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CASEGUARD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	threshold := DefaultSuppressionThreshold
	if raw := os.Getenv("SUPPRESSION_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			threshold = v
		}
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	auditTopic := os.Getenv("AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "caseguard.audit"
	}

	return Server{
		Addr:                 addr,
		JWTSigningKey:        jwtSigningKey,
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		SuppressionThreshold: threshold,
		FieldKeyHex:          os.Getenv("FIELD_ENCRYPTION_KEY"),
		Database: Database{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:    brokers,
			AuditTopic: auditTopic,
		},
	}
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return fallback
}
