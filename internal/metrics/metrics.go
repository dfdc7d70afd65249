// Package metrics exposes deployment progress as Prometheus metrics. A
// Collector is fed by the graph's unit events and owns its own registry, so
// several deployments in one process, and tests, never share counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unicesi/amelia-sub000/internal/dag"
)

const namespace = "amelia"

// Collector records unit events.
type Collector struct {
	registry *prometheus.Registry

	units    *prometheus.CounterVec
	running  *prometheus.GaugeVec
	duration *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_total",
				Help:      "Number of units that reached a final state, by graph and outcome.",
			},
			[]string{"graph", "outcome"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "units_running",
				Help:      "Number of units currently running, by graph.",
			},
			[]string{"graph"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "unit_duration_seconds",
				Help:      "Time taken by a unit on its lane, by graph and node.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"graph", "node"},
		),
	}
	c.registry.MustRegister(
		c.units,
		c.running,
		c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Observe records e. It is safe for concurrent use and can be passed
// directly as a graph observer.
func (c *Collector) Observe(e dag.Event) {
	switch e.Kind {
	case dag.UnitStarted:
		c.running.WithLabelValues(e.Graph).Inc()
		return
	case dag.UnitCompleted, dag.UnitFailed:
		c.running.WithLabelValues(e.Graph).Dec()
		c.duration.WithLabelValues(e.Graph, e.Node).Observe(e.Elapsed.Seconds())
	case dag.UnitSkipped:
		// Skipped units that had started were cancelled mid-flight.
		if e.Elapsed > 0 {
			c.running.WithLabelValues(e.Graph).Dec()
		}
	}
	c.units.WithLabelValues(e.Graph, e.Kind.String()).Inc()
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition
// format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
