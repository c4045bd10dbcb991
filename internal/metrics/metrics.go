// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatrelay"

// Metrics groups the relay's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	MessagesSent      prometheus.Counter
	PersistFailures   prometheus.Counter
	PersistLatency    prometheus.Histogram
	FanoutFailures    prometheus.Counter
	StatusTransitions *prometheus.CounterVec
	TypingChanges     prometheus.Counter
	ConnectionsActive prometheus.Gauge
	InboundRejected   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages durably appended.",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Appends that failed or timed out.",
		}),
		PersistLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Latency of durable appends.",
			Buckets:   prometheus.DefBuckets,
		}),
		FanoutFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_failures_total",
			Help:      "Live events a registered connection could not take.",
		}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Message status transitions by target status.",
		}, []string{"status"}),
		TypingChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "typing_changes_total",
			Help:      "Typing state transitions published.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Registered live connections.",
		}),
		InboundRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_rejected_total",
			Help:      "Inbound events rejected, by error code.",
		}, []string{"code"}),
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) ObservePersist(seconds float64) {
	if m != nil {
		m.PersistLatency.Observe(seconds)
	}
}

func (m *Metrics) FanoutFailed() {
	if m != nil {
		m.FanoutFailures.Inc()
	}
}

func (m *Metrics) StatusAdvanced(status string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) TypingChanged() {
	if m != nil {
		m.TypingChanges.Inc()
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.ConnectionsActive.Set(float64(n))
	}
}

func (m *Metrics) Rejected(code string) {
	if m != nil {
		m.InboundRejected.WithLabelValues(code).Inc()
	}
}
