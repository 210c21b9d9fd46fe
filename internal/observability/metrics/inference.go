package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InferenceMetrics tracks auto-annotation runs.
type InferenceMetrics struct {
	runsTotal        *prometheus.CounterVec
	activeRuns       prometheus.Gauge
	imagesTotal      *prometheus.CounterVec
	detectionsTotal  *prometheus.CounterVec
	detectDuration   *prometheus.HistogramVec
	modelLoadsTotal  *prometheus.CounterVec
	modelLoadSeconds *prometheus.HistogramVec
}

// NewInferenceMetrics creates and registers the inference collectors.
func NewInferenceMetrics(registry *prometheus.Registry) (*InferenceMetrics, error) {
	m := &InferenceMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register inference metrics: %w", err)
	}
	return m, nil
}

func (m *InferenceMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoannotate_runs_total",
			Help: "Total number of inference runs partitioned by model family and final status",
		},
		[]string{"family", "status"}, // status: completed, failed, cancelled
	)

	m.activeRuns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autoannotate_active_runs",
		Help: "Number of inference runs currently in progress",
	})

	m.imagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoannotate_images_inferred_total",
			Help: "Total number of images passed through a detector",
		},
		[]string{"family"},
	)

	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoannotate_detections_total",
			Help: "Total number of detections partitioned by label",
		},
		[]string{"label"},
	)

	m.detectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoannotate_detect_duration_seconds",
			Help:    "Time spent decoding and detecting one image",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"family"},
	)

	m.modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoannotate_model_loads_total",
			Help: "Total number of model load attempts",
		},
		[]string{"family", "status"},
	)

	m.modelLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoannotate_model_load_duration_seconds",
			Help:    "Time taken to load a detection model",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		},
		[]string{"family"},
	)
}

func (m *InferenceMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.activeRuns,
		m.imagesTotal,
		m.detectionsTotal,
		m.detectDuration,
		m.modelLoadsTotal,
		m.modelLoadSeconds,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *InferenceMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *InferenceMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RunStarted marks a run as active.
func (m *InferenceMetrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished records the final status of a run.
func (m *InferenceMetrics) RunFinished(family, status string) {
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(family, status).Inc()
}

// RecordImage records one processed image and its detections.
func (m *InferenceMetrics) RecordImage(family string, duration time.Duration, labels []string) {
	m.imagesTotal.WithLabelValues(family).Inc()
	m.detectDuration.WithLabelValues(family).Observe(duration.Seconds())
	for _, l := range labels {
		m.detectionsTotal.WithLabelValues(l).Inc()
	}
}

// RecordModelLoad records a model load attempt.
func (m *InferenceMetrics) RecordModelLoad(family string, duration time.Duration, err error) {
	if err != nil {
		m.modelLoadsTotal.WithLabelValues(family, StatusError).Inc()
		return
	}
	m.modelLoadsTotal.WithLabelValues(family, StatusSuccess).Inc()
	m.modelLoadSeconds.WithLabelValues(family).Observe(duration.Seconds())
}
