package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parkpeek"

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	ScanOutcomes     *prometheus.CounterVec
	ScansIgnored     *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	Occupancy        *prometheus.GaugeVec
	Capacity         *prometheus.GaugeVec
	Stale            *prometheus.GaugeVec
	RefreshFailures  prometheus.Counter
	PushesSent       *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ScanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_outcomes_total",
			Help:      "Processed scans by location, direction and outcome.",
		}, []string{"location", "direction", "outcome"}),
		ScansIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_ignored_total",
			Help:      "Detections dropped because the camera view was locked.",
		}, []string{"location", "direction"}),
		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Time from decoded payload to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"location", "direction"}),
		Occupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupancy_current",
			Help:      "Cached occupied spaces per location.",
		}, []string{"location"}),
		Capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupancy_total",
			Help:      "Capacity per location.",
		}, []string{"location"}),
		Stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupancy_stale",
			Help:      "1 when the cached value could not be refreshed.",
		}, []string{"location"}),
		RefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occupancy_refresh_failures_total",
			Help:      "Refresh cycles that exhausted their retries.",
		}),
		PushesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_notifications_total",
			Help:      "Web push deliveries by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ScanOutcomes,
		m.ScansIgnored,
		m.WorkflowDuration,
		m.Occupancy,
		m.Capacity,
		m.Stale,
		m.RefreshFailures,
		m.PushesSent,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLocation records one cached occupancy entry.
func (m *Metrics) ObserveLocation(name string, current, total int, stale bool) {
	if m == nil {
		return
	}
	m.Occupancy.WithLabelValues(name).Set(float64(current))
	m.Capacity.WithLabelValues(name).Set(float64(total))
	s := 0.0
	if stale {
		s = 1
	}
	m.Stale.WithLabelValues(name).Set(s)
}
