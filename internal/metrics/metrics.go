package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/eleven-am/slidepdf/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     prometheus.Counter
	httpErrors       prometheus.Counter
	requests         *prometheus.CounterVec
	admissionDenials *prometheus.CounterVec
	activeRequests   prometheus.Gauge
	segments         *prometheus.CounterVec
	deliveryAttempts *prometheus.CounterVec
	segmentDuration  prometheus.Histogram
	eventsDropped    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slidepdf_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		httpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slidepdf_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidepdf_requests_total",
			Help: "Finished requests by outcome",
		}, []string{"outcome"}),
		admissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidepdf_admission_denials_total",
			Help: "Admission denials by reason",
		}, []string{"reason"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slidepdf_active_requests",
			Help: "Requests currently holding an admission slot",
		}),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidepdf_segments_total",
			Help: "Processed segments by outcome",
		}, []string{"outcome"}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slidepdf_delivery_attempts_total",
			Help: "Delivery attempts by result",
		}, []string{"result"}),
		segmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slidepdf_segment_processing_seconds",
			Help:    "Time spent sampling, deduplicating and assembling one segment",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		eventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slidepdf_events_dropped",
			Help: "Progress events dropped because the status channel was full",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpErrors,
		m.requests,
		m.admissionDenials,
		m.activeRequests,
		m.segments,
		m.deliveryAttempts,
		m.segmentDuration,
		m.eventsDropped,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Admitted, Denied and Released make Metrics an admission observer.
func (m *Metrics) Admitted(requesterID string, global int) {
	m.activeRequests.Set(float64(global))
}

func (m *Metrics) Denied(requesterID string, reason error) {
	label := "other"
	switch {
	case errors.Is(reason, domain.ErrServerFull):
		label = "server_full"
	case errors.Is(reason, domain.ErrRequesterLimit):
		label = "requester_limit"
	}
	m.admissionDenials.WithLabelValues(label).Inc()
}

func (m *Metrics) Released(requesterID string, global int) {
	m.activeRequests.Set(float64(global))
}

// RequestFinished records a request outcome. A nil error counts as completed.
func (m *Metrics) RequestFinished(err error) {
	outcome := "completed"
	if err != nil {
		outcome = string(domain.KindOf(err))
		if outcome == "" {
			outcome = "failed"
		}
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SegmentFinished(outcome string, took time.Duration) {
	m.segments.WithLabelValues(outcome).Inc()
	m.segmentDuration.Observe(took.Seconds())
}

func (m *Metrics) DeliveryAttempt(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveryAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetEventsDropped(n int64) {
	m.eventsDropped.Set(float64(n))
}

// Handler serves the registry. updateGauges runs before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestMiddleware returns chi-compatible middleware that counts requests
// and error responses.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			m.httpRequests.Inc()
			if wrap.status >= 400 {
				m.httpErrors.Inc()
			}
		})
	}
}
