// Package metrics exposes the pipeline's diagnostic counters via Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds a private registry so tests and embedders never collide with
// the global default registry. Every method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	reportsAccepted prometheus.Counter
	reportsRejected prometheus.Counter
	evictions       *prometheus.CounterVec
	reconnects      prometheus.Counter
	fallbackPolls   prometheus.Counter
	renders         prometheus.Counter
	renderOps       *prometheus.CounterVec

	cacheSize      prometheus.Gauge
	visibleMarkers prometheus.Gauge
	hiddenMarkers  prometheus.Gauge
}

// New creates a fresh Metrics registry with all pipeline series registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	reportsAccepted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "reports_accepted_total",
		Help:      "Position reports merged into the vessel cache",
	})
	reportsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "reports_rejected_total",
		Help:      "Position reports dropped for invalid ids, coordinates or stale timestamps",
	})
	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "cache_evictions_total",
		Help:      "Cache records removed, by reason",
	}, []string{"reason"})
	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "feed_reconnects_total",
		Help:      "Reconnect attempts against the push feed",
	})
	fallbackPolls := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "fallback_polls_total",
		Help:      "Batches fetched via fallback polling",
	})
	renders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "renders_total",
		Help:      "Render passes that actually ran",
	})
	renderOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vesselstream",
		Name:      "render_ops_total",
		Help:      "Diff operations emitted to the render sink, by op",
	}, []string{"op"})

	cacheSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vesselstream",
		Name:      "cache_entries",
		Help:      "Vessels currently held in the cache",
	})
	visibleMarkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vesselstream",
		Name:      "markers_visible",
		Help:      "Markers currently attached to the render surface",
	})
	hiddenMarkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vesselstream",
		Name:      "markers_hidden",
		Help:      "Detached markers retained for reuse",
	})

	registry.MustRegister(
		reportsAccepted,
		reportsRejected,
		evictions,
		reconnects,
		fallbackPolls,
		renders,
		renderOps,
		cacheSize,
		visibleMarkers,
		hiddenMarkers,
	)

	return &Metrics{
		registry:        registry,
		reportsAccepted: reportsAccepted,
		reportsRejected: reportsRejected,
		evictions:       evictions,
		reconnects:      reconnects,
		fallbackPolls:   fallbackPolls,
		renders:         renders,
		renderOps:       renderOps,
		cacheSize:       cacheSize,
		visibleMarkers:  visibleMarkers,
		hiddenMarkers:   hiddenMarkers,
	}
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ReportAccepted() {
	if m == nil {
		return
	}
	m.reportsAccepted.Inc()
}

func (m *Metrics) ReportRejected() {
	if m == nil {
		return
	}
	m.reportsRejected.Inc()
}

// Eviction records n cache removals for the given reason ("aged", "capacity"
// or "emergency").
func (m *Metrics) Eviction(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) FallbackPoll() {
	if m == nil {
		return
	}
	m.fallbackPolls.Inc()
}

func (m *Metrics) RenderPass(shows, hides int) {
	if m == nil {
		return
	}
	m.renders.Inc()
	if shows > 0 {
		m.renderOps.WithLabelValues("show").Add(float64(shows))
	}
	if hides > 0 {
		m.renderOps.WithLabelValues("hide").Add(float64(hides))
	}
}

// SetSizes updates the three occupancy gauges in one call.
func (m *Metrics) SetSizes(cache, visible, hidden int) {
	if m == nil {
		return
	}
	m.cacheSize.Set(float64(cache))
	m.visibleMarkers.Set(float64(visible))
	m.hiddenMarkers.Set(float64(hidden))
}
