package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the run notification publisher.
type MQTTMetrics struct {
	connected prometheus.Gauge
	published *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewMQTTMetrics creates and registers the MQTT collectors.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "1 while connected to the broker, 0 otherwise",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mqtt_publish_total",
			Help: "Run notifications published, by outcome",
		}, []string{"status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_latency_seconds",
			Help:    "Time until the broker acknowledged a run notification",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		}),
	}
	for _, c := range []prometheus.Collector{m.connected, m.published, m.latency} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
		}
	}
	return m, nil
}

// UpdateConnectionStatus sets the connection gauge.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.Set(v)
}

// RecordPublish counts one publish; latency is only observed on success.
func (m *MQTTMetrics) RecordPublish(latency time.Duration, err error) {
	if err != nil {
		m.published.WithLabelValues(StatusError).Inc()
		return
	}
	m.published.WithLabelValues(StatusSuccess).Inc()
	m.latency.Observe(latency.Seconds())
}
