package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service. Each instance
// owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestCounter     *prometheus.CounterVec
	LatencyHistogram   *prometheus.HistogramVec
	RateLimitHits      prometheus.Counter
	Derivations        *prometheus.CounterVec
	DerivationDuration *prometheus.HistogramVec
	ImagesRendered     *prometheus.CounterVec
	ClientCache        *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	registry           *prometheus.Registry
}

// New creates and registers all collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samplehub_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		LatencyHistogram: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samplehub_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "samplehub_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		Derivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samplehub_derivations_total",
				Help: "Completed image derivations by image type and outcome",
			},
			[]string{"type", "outcome"},
		),
		DerivationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samplehub_derivation_duration_seconds",
				Help:    "Time spent deriving images for one sample",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"type"},
		),
		ImagesRendered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samplehub_images_rendered_total",
				Help: "Raster images written to the image store",
			},
			[]string{"type"},
		),
		ClientCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samplehub_client_cache_total",
				Help: "Storage client cache lookups by backend kind and result",
			},
			[]string{"kind", "result"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samplehub_queue_deliveries_total",
				Help: "Derivation jobs handled by workers by outcome",
			},
			[]string{"outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestCounter,
		m.LatencyHistogram,
		m.RateLimitHits,
		m.Derivations,
		m.DerivationDuration,
		m.ImagesRendered,
		m.ClientCache,
		m.Deliveries,
	)
	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.LatencyHistogram.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// IncrementRateLimitHit counts a rejected request
func (m *Metrics) IncrementRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}

// ObserveDerivation records a finished derivation
func (m *Metrics) ObserveDerivation(imageType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Derivations.WithLabelValues(imageType, outcome).Inc()
	m.DerivationDuration.WithLabelValues(imageType).Observe(elapsed.Seconds())
}

// AddImagesRendered counts uploaded images
func (m *Metrics) AddImagesRendered(imageType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesRendered.WithLabelValues(imageType).Add(float64(n))
}

// ObserveClientCache records a storage client lookup
func (m *Metrics) ObserveClientCache(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ClientCache.WithLabelValues(kind, result).Inc()
}

// ObserveDelivery records how a worker settled a queue message
func (m *Metrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}
