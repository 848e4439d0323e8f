// Package metrics exposes Prometheus instrumentation. Counters are fed by
// subscribing to the domain event log, so every recorded operation is
// counted without the core packages knowing about Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UncleTom29/predictlink-evm/core/events"
)

// Metrics holds all protocol collectors
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal *prometheus.CounterVec

	totalSupply prometheus.Gauge
	totalStaked prometheus.Gauge
	eventLogLen prometheus.Gauge
}

// New creates and registers the protocol collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predictlink",
			Name:      "domain_events_total",
			Help:      "Domain events recorded, by event type.",
		}, []string{"type"}),
		totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "predictlink",
			Name:      "total_supply",
			Help:      "Total minted value.",
		}),
		totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "predictlink",
			Name:      "total_staked",
			Help:      "Total active staked principal.",
		}),
		eventLogLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "predictlink",
			Name:      "event_log_entries",
			Help:      "Entries in the in-memory event log.",
		}),
	}

	registry.MustRegister(m.eventsTotal, m.totalSupply, m.totalStaked, m.eventLogLen)
	return m
}

// Observe returns the event log observer that feeds the counters
func (m *Metrics) Observe() events.Observer {
	return func(entry events.Entry) {
		m.eventsTotal.WithLabelValues(string(entry.Type)).Inc()
		m.eventLogLen.Inc()
	}
}

// SetTotalSupply updates the supply gauge
func (m *Metrics) SetTotalSupply(supply int64) {
	m.totalSupply.Set(float64(supply))
}

// SetTotalStaked updates the staked gauge
func (m *Metrics) SetTotalStaked(staked int64) {
	m.totalStaked.Set(float64(staked))
}

// Handler returns the HTTP handler serving the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
