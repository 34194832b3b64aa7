// Package metrics exposes Prometheus counters for the stream server.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsOpened       prometheus.Counter
	sessionsClosed       prometheus.Counter
	activeSessions       prometheus.Gauge
	credentialRejections *prometheus.CounterVec
	requestErrors        *prometheus.CounterVec
	fragmentsDelivered   prometheus.Counter
	fragmentBytes        prometheus.Counter
	extractionSeconds    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slicer_sessions_opened_total",
			Help: "Total number of stream sessions opened",
		}),
		sessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slicer_sessions_closed_total",
			Help: "Total number of stream sessions closed",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slicer_active_sessions",
			Help: "Number of currently connected sessions",
		}),
		credentialRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slicer_credential_rejections_total",
			Help: "Requests closed because of an invalid credential",
		}, []string{"reason"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slicer_request_errors_total",
			Help: "Recoverable request errors reported to clients",
		}, []string{"code"}),
		fragmentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slicer_fragments_delivered_total",
			Help: "Fragments written to client connections",
		}),
		fragmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slicer_fragment_bytes_total",
			Help: "Raw fragment bytes delivered before base64 encoding",
		}),
		extractionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slicer_extraction_duration_seconds",
			Help:    "Wall time of fragment extraction",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.sessionsOpened,
		m.sessionsClosed,
		m.activeSessions,
		m.credentialRejections,
		m.requestErrors,
		m.fragmentsDelivered,
		m.fragmentBytes,
		m.extractionSeconds,
	)
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
	m.activeSessions.Dec()
}

func (m *Metrics) CredentialRejected(reason string) {
	if m == nil {
		return
	}
	m.credentialRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RequestError(code string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) FragmentDelivered(size int) {
	if m == nil {
		return
	}
	m.fragmentsDelivered.Inc()
	m.fragmentBytes.Add(float64(size))
}

// ObserveExtraction records an extraction; result is "ok", "error" or "cancelled".
func (m *Metrics) ObserveExtraction(result string, seconds float64) {
	if m == nil {
		return
	}
	m.extractionSeconds.WithLabelValues(result).Observe(seconds)
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
