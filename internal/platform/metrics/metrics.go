package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ClientsCreated       prometheus.Counter
	DuplicatesFlagged    prometheus.Counter
	ErasureRequests      prometheus.Counter
	ErasureExecutions    prometheus.Counter
	FallbackApprovals    prometheus.Counter
	AuditWriteFailures   prometheus.Counter
	SuppressedCounts     prometheus.Counter
	RequestLatencySecond *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ClientsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_clients_created_total",
			Help: "Total number of client files created",
		}),
		DuplicatesFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_duplicate_candidates_total",
			Help: "Total number of creations that surfaced duplicate candidates",
		}),
		ErasureRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_erasure_requests_total",
			Help: "Total number of erasure requests created",
		}),
		ErasureExecutions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_erasure_executions_total",
			Help: "Total number of destructive erasure executions completed",
		}),
		FallbackApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_erasure_fallback_approvals_total",
			Help: "Total number of admin fallback approvals on deadlocked requests",
		}),
		AuditWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_audit_write_failures_total",
			Help: "Total number of failed durable audit appends",
		}),
		SuppressedCounts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_suppressed_counts_total",
			Help: "Total number of aggregate counts replaced by the small-cell sentinel",
		}),
		RequestLatencySecond: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caseguard_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) IncrementClientsCreated() {
	if m != nil {
		m.ClientsCreated.Inc()
	}
}

func (m *Metrics) IncrementDuplicatesFlagged() {
	if m != nil {
		m.DuplicatesFlagged.Inc()
	}
}

func (m *Metrics) IncrementErasureRequests() {
	if m != nil {
		m.ErasureRequests.Inc()
	}
}

func (m *Metrics) IncrementErasureExecutions() {
	if m != nil {
		m.ErasureExecutions.Inc()
	}
}

func (m *Metrics) IncrementFallbackApprovals() {
	if m != nil {
		m.FallbackApprovals.Inc()
	}
}

func (m *Metrics) IncrementAuditWriteFailures() {
	if m != nil {
		m.AuditWriteFailures.Inc()
	}
}

func (m *Metrics) IncrementSuppressedCounts() {
	if m != nil {
		m.SuppressedCounts.Inc()
	}
}
