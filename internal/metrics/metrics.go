// Package metrics exports service metrics to Prometheus. Metrics implements
// both the loader and the orchestrator observer interfaces.
package metrics

import (
	"net/http"
	"time"

	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "murmur"

const labelTier = "tier"

// SnapshotSource supplies the current state of every tier slot.
type SnapshotSource interface {
	Snapshot() [tier.Count]lifecycle.State
}

// Metrics owns a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	synthesis    *prometheus.HistogramVec
	loadDuration *prometheus.HistogramVec
}

// New registers the service metrics, a slot collector reading from source
// and the Go runtime collectors. source may be nil.
func New(source SnapshotSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generate_requests_total",
				Help:      "Total number of generate requests by requested tier, served tier and outcome",
			},
			[]string{"requested", "served", "status"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_fallbacks_total",
				Help:      "Total number of requests served by a tier other than the one requested",
			},
			[]string{"requested", "served"},
		),
		synthesis: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Duration of backend synthesis calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{labelTier},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_load_duration_seconds",
				Help:      "Duration of backend loads in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{labelTier, "status"},
		),
	}

	m.registry.MustRegister(m.requests, m.fallbacks, m.synthesis, m.loadDuration)

	if source != nil {
		m.registry.MustRegister(newSlotCollector(source))
	}

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveRequest counts one generate request.
func (m *Metrics) ObserveRequest(requested, served, outcome string) {
	m.requests.WithLabelValues(requested, served, outcome).Inc()
}

// ObserveFallback counts a request served by a lower tier.
func (m *Metrics) ObserveFallback(requested, served tier.Tier) {
	m.fallbacks.WithLabelValues(requested.String(), served.String()).Inc()
}

// ObserveSynthesis records one backend call.
func (m *Metrics) ObserveSynthesis(served tier.Tier, elapsed time.Duration) {
	m.synthesis.WithLabelValues(served.String()).Observe(elapsed.Seconds())
}

// ObserveLoad records one backend load.
func (m *Metrics) ObserveLoad(which tier.Tier, outcome string, elapsed time.Duration) {
	m.loadDuration.WithLabelValues(which.String(), outcome).Observe(elapsed.Seconds())
}

// slotCollector reports slot availability at scrape time.
type slotCollector struct {
	source    SnapshotSource
	available *prometheus.Desc
	loading   *prometheus.Desc
}

func newSlotCollector(source SnapshotSource) *slotCollector {
	return &slotCollector{
		source: source,
		available: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tier_available"),
			"Whether the tier has a loaded backend (1) or not (0)",
			[]string{labelTier}, nil,
		),
		loading: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tier_loading"),
			"Whether the tier backend is currently loading (1) or not (0)",
			[]string{labelTier}, nil,
		),
	}
}

func (c *slotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.loading
}

func (c *slotCollector) Collect(ch chan<- prometheus.Metric) {
	states := c.source.Snapshot()

	for _, which := range tier.All() {
		state := states[which.Index()]
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, boolValue(state.Available()), which.String())
		ch <- prometheus.MustNewConstMetric(c.loading, prometheus.GaugeValue, boolValue(state.Loading()), which.String())
	}
}

func boolValue(flag bool) float64 {
	if flag {
		return 1
	}

	return 0
}
