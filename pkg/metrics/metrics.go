// Package metrics exposes the fight engine's prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "espuela"

// Metrics holds every collector the service updates
type Metrics struct {
	registry *prometheus.Registry

	roundOpen         prometheus.Gauge
	remainingSeconds  prometheus.Gauge
	activeWagers      prometheus.Gauge
	wagersPlaced      *prometheus.CounterVec
	wagerRejections   *prometheus.CounterVec
	amountWagered     *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	amountPaidOut     prometheus.Counter
	settlementLatency prometheus.Histogram
	adjustments       *prometheus.CounterVec
	wsConnections     prometheus.Gauge
}

// New registers all collectors on a fresh registry together with the
// standard process and go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		roundOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "round_open",
			Help: "1 while the betting window is open.",
		}),
		remainingSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "round_remaining_seconds",
			Help: "Seconds left in the betting window.",
		}),
		activeWagers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_wagers",
			Help: "Wagers placed in the current window and not yet settled.",
		}),
		wagersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "wagers_placed_total",
			Help: "Accepted wagers by outcome.",
		}, []string{"outcome"}),
		wagerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "wager_rejections_total",
			Help: "Rejected wagers by reason.",
		}, []string{"reason"}),
		amountWagered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "amount_wagered_total",
			Help: "Sum of accepted wager amounts by outcome.",
		}, []string{"outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_total",
			Help: "Settled rounds by declared outcome.",
		}, []string{"outcome"}),
		amountPaidOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "amount_paid_out_total",
			Help: "Sum of all payouts.",
		}),
		settlementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "settlement_duration_seconds",
			Help:    "Time spent inside the settlement transaction.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "balance_adjustments_total",
			Help: "Operator balance adjustments by direction.",
		}, []string{"direction"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
			Help: "Open websocket change-feed connections.",
		}),
	}

	reg.MustRegister(
		m.roundOpen,
		m.remainingSeconds,
		m.activeWagers,
		m.wagersPlaced,
		m.wagerRejections,
		m.amountWagered,
		m.settlements,
		m.amountPaidOut,
		m.settlementLatency,
		m.adjustments,
		m.wsConnections,
	)
	return m
}

// Registry returns the underlying registry, e.g. for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRound mirrors the round record into the gauges
func (m *Metrics) ObserveRound(open bool, remaining int) {
	if m == nil {
		return
	}
	if open {
		m.roundOpen.Set(1)
	} else {
		m.roundOpen.Set(0)
	}
	m.remainingSeconds.Set(float64(remaining))
}

// WindowOpened resets the active wager gauge for a fresh window
func (m *Metrics) WindowOpened() {
	if m == nil {
		return
	}
	m.activeWagers.Set(0)
}

// WagerPlaced counts an accepted wager
func (m *Metrics) WagerPlaced(outcome string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.wagersPlaced.WithLabelValues(outcome).Inc()
	m.amountWagered.WithLabelValues(outcome).Add(amount.InexactFloat64())
	m.activeWagers.Inc()
}

// WagerRejected counts a refused wager
func (m *Metrics) WagerRejected(reason string) {
	if m == nil {
		return
	}
	m.wagerRejections.WithLabelValues(reason).Inc()
}

// Settled records a completed settlement
func (m *Metrics) Settled(outcome string, paidOut decimal.Decimal, took time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.amountPaidOut.Add(paidOut.InexactFloat64())
	m.settlementLatency.Observe(took.Seconds())
	m.activeWagers.Set(0)
}

// Adjusted counts an operator balance adjustment
func (m *Metrics) Adjusted(direction string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(direction).Inc()
}

// ConnectionOpened tracks websocket subscribers
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// ConnectionClosed tracks websocket subscribers
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
