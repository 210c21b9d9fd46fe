package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the API routes and the inference event streams.
// Paths are echo route templates, so cardinality stays bounded.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
	streams  prometheus.Gauge
	events   *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP collectors.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken for HTTP requests; streaming routes include the whole run",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}, []string{"method", "path"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "HTTP responses with a 4xx or 5xx status",
		}, []string{"method", "path", "error_type"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sse_active_streams",
			Help: "Number of inference event streams currently open",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sse_messages_sent_total",
			Help: "Total number of server-sent events written",
		}, []string{"event"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.latency, m.failures, m.streams, m.events}
}

// Describe implements prometheus.Collector.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// ObserveRequest counts one finished request. Statuses from 400 up are also
// counted as client_error or server_error.
func (m *HTTPMetrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, path).Observe(elapsed.Seconds())

	switch {
	case status >= http.StatusInternalServerError:
		m.failures.WithLabelValues(method, path, "server_error").Inc()
	case status >= http.StatusBadRequest:
		m.failures.WithLabelValues(method, path, "client_error").Inc()
	}
}

// StreamOpened tracks an inference stream until the returned func is called.
func (m *HTTPMetrics) StreamOpened() (closed func()) {
	m.streams.Inc()
	return m.streams.Dec
}

// EventSent counts one written server-sent event by type.
func (m *HTTPMetrics) EventSent(event string) {
	m.events.WithLabelValues(event).Inc()
}
