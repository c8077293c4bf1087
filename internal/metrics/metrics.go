// Package metrics exposes Prometheus collectors for turn processing and
// HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/avatarserver/internal/bus"
)

const namespace = "avatar"

// Metrics holds every collector the service registers.
type Metrics struct {
	registry *prometheus.Registry

	RequestCount      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	Turns             *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	CacheLookups      *prometheus.CounterVec
	AdapterFallbacks  *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	AudioSeconds      prometheus.Histogram
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),

		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Wall time from receiving text to response_complete",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"result"},
		),

		AdapterFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_fallbacks_total",
				Help:      "Adapter failures answered by a local fallback",
			},
			[]string{"adapter"},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of open avatar WebSocket connections",
			},
		),

		AudioSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "audio_duration_seconds",
				Help:      "Duration of synthesized reply audio",
				Buckets:   prometheus.LinearBuckets(0, 5, 12),
			},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach subscribes the collectors to bus events.
func (m *Metrics) Attach(b *bus.EventBus) {
	b.SubscribeMultiple(bus.AllEventTypes, m.Observe)
}

// Observe updates collectors from a single event.
func (m *Metrics) Observe(e bus.Event) {
	switch e.Type {
	case bus.EventTypeConnectionOpened:
		m.ActiveConnections.Inc()
	case bus.EventTypeConnectionClosed:
		m.ActiveConnections.Dec()
	case bus.EventTypeTurnCompleted:
		m.Turns.WithLabelValues("complete").Inc()
		m.TurnDuration.Observe(e.Float("elapsed"))
		m.AudioSeconds.Observe(e.Float("audio_duration"))
	case bus.EventTypeTurnFailed:
		m.Turns.WithLabelValues("failed").Inc()
	case bus.EventTypeCacheHit:
		m.CacheLookups.WithLabelValues("hit").Inc()
	case bus.EventTypeCacheMiss:
		m.CacheLookups.WithLabelValues("miss").Inc()
	case bus.EventTypeAdapterFallback:
		m.AdapterFallbacks.WithLabelValues(e.String("adapter")).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency per route. endpoint should
// be the registered pattern, not the raw path, to bound label cardinality.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
