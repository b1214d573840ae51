// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Engine metrics
	EnginePhase  *prometheus.GaugeVec
	LoopDuration *prometheus.HistogramVec
	LoopErrors   *prometheus.CounterVec

	// Trading metrics
	OrdersTotal   *prometheus.CounterVec
	TradesClosed  *prometheus.CounterVec
	OpenPositions prometheus.Gauge
	Capital       prometheus.Gauge
	TotalPnL      prometheus.Gauge

	// Risk metrics
	Risk           *prometheus.GaugeVec
	EmergencyStops prometheus.Counter

	// Market metrics
	LastPrice *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every metric on reg. A nil reg uses a fresh registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "hedgebot"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		EnginePhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "phase",
			Help:      "1 for the current engine phase, 0 otherwise",
		}, []string{"phase"}),
		LoopDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "loop_duration_seconds",
			Help:      "Duration of one loop iteration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		LoopErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "loop_errors_total",
			Help:      "Total number of failed loop iterations by loop and error kind",
		}, []string{"loop", "kind"}),

		OrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "orders_total",
			Help:      "Total number of orders by venue, side and result",
		}, []string{"venue", "side", "result"}),
		TradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_closed_total",
			Help:      "Total number of closed positions by close reason",
		}, []string{"reason"}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		Capital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "capital",
			Help:      "Current capital in quote currency",
		}),
		TotalPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "total_pnl",
			Help:      "Cumulative realized profit and loss",
		}),

		Risk: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "metric",
			Help:      "Latest portfolio risk aggregate by metric",
		}, []string{"metric"}),
		EmergencyStops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "emergency_stops_total",
			Help:      "Total number of emergency stops",
		}),

		LastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "last_price",
			Help:      "Last observed price by symbol",
		}, []string{"symbol"}),

		gatherer: reg,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SetPhase marks phase as the current engine phase.
func (m *Metrics) SetPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.EnginePhase.WithLabelValues(p).Set(v)
	}
}

// ObserveLoop records one loop iteration. kind is empty on success.
func (m *Metrics) ObserveLoop(loop string, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.LoopDuration.WithLabelValues(loop).Observe(d.Seconds())
	if kind != "" {
		m.LoopErrors.WithLabelValues(loop, kind).Inc()
	}
}

// RecordOrder counts an order outcome.
func (m *Metrics) RecordOrder(venue, side, result string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(venue, side, result).Inc()
}

// RecordClose counts a closed position.
func (m *Metrics) RecordClose(reason string) {
	if m == nil {
		return
	}
	m.TradesClosed.WithLabelValues(reason).Inc()
}

// SetBook updates the capital and position gauges.
func (m *Metrics) SetBook(capital, totalPnL float64, open int) {
	if m == nil {
		return
	}
	m.Capital.Set(capital)
	m.TotalPnL.Set(totalPnL)
	m.OpenPositions.Set(float64(open))
}

// SetRisk publishes the latest risk aggregate.
func (m *Metrics) SetRisk(values map[string]float64) {
	if m == nil {
		return
	}
	for k, v := range values {
		m.Risk.WithLabelValues(k).Set(v)
	}
}

// RecordEmergencyStop counts an emergency stop.
func (m *Metrics) RecordEmergencyStop() {
	if m == nil {
		return
	}
	m.EmergencyStops.Inc()
}

// SetPrice records the last price of symbol.
func (m *Metrics) SetPrice(symbol string, price float64) {
	if m == nil {
		return
	}
	m.LastPrice.WithLabelValues(symbol).Set(price)
}
