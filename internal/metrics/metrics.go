// ABOUTME: Prometheus instrumentation for the hearth pipeline on a private registry
// ABOUTME: All recording methods are safe to call on a nil *Metrics

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hearth"

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry         *prometheus.Registry
	interactions     *prometheus.CounterVec
	duplicates       prometheus.Counter
	deliveryFailures prometheus.Counter
	auditFailures    prometheus.Counter
	pipeline         prometheus.Histogram
	ruleSets         prometheus.Gauge
}

// New registers all collectors, plus Go and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Replies produced, by interaction kind.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Inbound messages skipped as duplicates.",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound replies the provider did not accept.",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Interaction records that could not be written.",
		}),
		pipeline: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_seconds",
			Help:      "Time to process one inbound message, from session lookup to recorded reply.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ruleSets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rulesets_loaded",
			Help:      "Rule sets in the active snapshot.",
		}),
	}

	m.registry.MustRegister(
		m.interactions,
		m.duplicates,
		m.deliveryFailures,
		m.auditFailures,
		m.pipeline,
		m.ruleSets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Interaction counts one reply of the given kind.
func (m *Metrics) Interaction(kind string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind).Inc()
}

// Duplicate counts one skipped duplicate.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// DeliveryFailure counts one failed outbound send.
func (m *Metrics) DeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// AuditFailure counts one failed interaction write.
func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// ObservePipeline records how long one message took.
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.pipeline.Observe(d.Seconds())
}

// SetRuleSets records the size of the active snapshot.
func (m *Metrics) SetRuleSets(n int) {
	if m == nil {
		return
	}
	m.ruleSets.Set(float64(n))
}
