package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records monitor activity. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	cycleDuration   prometheus.Histogram
	cycles          *prometheus.CounterVec
	restarts        prometheus.Counter
	trackedNodes    *prometheus.GaugeVec
	replaceFailures *prometheus.CounterVec
	lastSuccess     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodewatch",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of monitor cycles.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Name:      "cycles_total",
			Help:      "Monitor cycles by outcome.",
		}, []string{"outcome"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Name:      "cycle_restarts_total",
			Help:      "Cycles restarted after an unhandled error.",
		}),
		trackedNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nodewatch",
			Name:      "tracked_nodes",
			Help:      "Nodes persisted by the last successful cycle, by role bitmask.",
		}, []string{"roles"}),
		replaceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodewatch",
			Name:      "collection_replace_failures_total",
			Help:      "Collection replaces that were rolled back.",
		}, []string{"collection"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nodewatch",
			Name:      "last_successful_cycle_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.cycleDuration, m.cycles, m.restarts, m.trackedNodes, m.replaceFailures, m.lastSuccess)
	}
	return m
}

func (m *Metrics) CycleSucceeded(d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.cycles.WithLabelValues("success").Inc()
	m.lastSuccess.Set(float64(at.Unix()))
}

func (m *Metrics) CycleFailed(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.cycles.WithLabelValues("failure").Inc()
	m.restarts.Inc()
}

// SetTrackedNodes replaces the per-role gauge values.
func (m *Metrics) SetTrackedNodes(byRole map[string]int) {
	if m == nil {
		return
	}
	m.trackedNodes.Reset()
	for roles, count := range byRole {
		m.trackedNodes.WithLabelValues(roles).Set(float64(count))
	}
}

func (m *Metrics) ReplaceFailed(collection string) {
	if m == nil {
		return
	}
	m.replaceFailures.WithLabelValues(collection).Inc()
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
