// Package metrics exposes Prometheus instrumentation for the decision core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// Metrics holds every collector the bot registers.
type Metrics struct {
	SignalsObserved   prometheus.Counter
	SignalsAccepted   prometheus.Counter
	SignalsSuppressed *prometheus.CounterVec
	OrdersSubmitted   *prometheus.CounterVec
	ActiveLeaders     prometheus.Gauge
	PendingBatches    prometheus.Gauge
}

// New registers the collectors on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_signals_observed_total",
			Help: "Raw activity rows observed from the feed.",
		}),
		SignalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copybot_signals_accepted_total",
			Help: "Aggregated signals accepted for execution.",
		}),
		SignalsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_signals_suppressed_total",
			Help: "Aggregated signals suppressed, by reason.",
		}, []string{"reason"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copybot_orders_submitted_total",
			Help: "Orders handed to the execution gateway, by side.",
		}, []string{"side"}),
		ActiveLeaders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copybot_active_leaders",
			Help: "Conditions with an active leader.",
		}),
		PendingBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copybot_pending_batches",
			Help: "Sub-minimum batches waiting in the aggregation buffer.",
		}),
	}

	reg.MustRegister(
		m.SignalsObserved,
		m.SignalsAccepted,
		m.SignalsSuppressed,
		m.OrdersSubmitted,
		m.ActiveLeaders,
		m.PendingBatches,
	)
	return m
}

// Suppressed bumps the suppression counter for a reason code.
func (m *Metrics) Suppressed(reason types.SuppressReason) {
	m.SignalsSuppressed.WithLabelValues(string(reason)).Inc()
}
