package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit fan-out pipelines.
// All methods are nil-safe so handlers work without metrics wired.
type Metrics struct {
	Tracked       prometheus.Counter
	Sampled       prometheus.Counter
	Forwarded     prometheus.Counter
	ForwardErrors prometheus.Counter
	BreakerState  prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Tracked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_audit_ops_tracked_total",
			Help: "Total number of operational audit events kept after sampling",
		}),
		Sampled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_audit_ops_sampled_total",
			Help: "Total number of operational audit events dropped by sampling",
		}),
		Forwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_audit_security_forwarded_total",
			Help: "Total number of security audit events shipped to the sink",
		}),
		ForwardErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "caseguard_audit_security_forward_errors_total",
			Help: "Total number of failed security forwarding attempts",
		}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "caseguard_audit_security_breaker_state",
			Help: "Security forwarder circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncTracked() {
	if m != nil {
		m.Tracked.Inc()
	}
}

func (m *Metrics) IncSampled() {
	if m != nil {
		m.Sampled.Inc()
	}
}

func (m *Metrics) AddForwarded(n int) {
	if m != nil {
		m.Forwarded.Add(float64(n))
	}
}

func (m *Metrics) IncForwardErrors() {
	if m != nil {
		m.ForwardErrors.Inc()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}
