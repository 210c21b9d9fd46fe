package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics tracks the projects volume and dataset writes.
type StorageMetrics struct {
	diskFreeBytes    prometheus.Gauge
	diskTotalBytes   prometheus.Gauge
	uploadsRejected  prometheus.Counter
	imagesUploaded   prometheus.Counter
	subsetsCreated   *prometheus.CounterVec
	runHistoryWrites *prometheus.CounterVec
}

// NewStorageMetrics creates and registers the storage collectors.
func NewStorageMetrics(registry *prometheus.Registry) (*StorageMetrics, error) {
	m := &StorageMetrics{
		diskFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storage_disk_free_bytes",
			Help: "Free space on the projects volume at the last check",
		}),
		diskTotalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storage_disk_total_bytes",
			Help: "Total size of the projects volume",
		}),
		uploadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storage_uploads_rejected_total",
			Help: "Uploads refused because the projects volume was low on space",
		}),
		imagesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storage_images_uploaded_total",
			Help: "Images extracted from uploaded archives",
		}),
		subsetsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_subsets_created_total",
			Help: "Subsets created partitioned by selection mode",
		}, []string{"mode"}), // mode: full, manual, random
		runHistoryWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_run_history_writes_total",
			Help: "Run history rows written",
		}, []string{"status"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register storage metrics: %w", err)
	}
	return m, nil
}

func (m *StorageMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.diskFreeBytes,
		m.diskTotalBytes,
		m.uploadsRejected,
		m.imagesUploaded,
		m.subsetsCreated,
		m.runHistoryWrites,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *StorageMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *StorageMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// UpdateDiskUsage records the latest free/total byte counts.
func (m *StorageMetrics) UpdateDiskUsage(free, total uint64) {
	m.diskFreeBytes.Set(float64(free))
	m.diskTotalBytes.Set(float64(total))
}

// RecordUploadRejected counts an upload refused for lack of space.
func (m *StorageMetrics) RecordUploadRejected() {
	m.uploadsRejected.Inc()
}

// RecordImagesUploaded adds n extracted images.
func (m *StorageMetrics) RecordImagesUploaded(n int) {
	m.imagesUploaded.Add(float64(n))
}

// RecordSubsetCreated counts a subset by selection mode.
func (m *StorageMetrics) RecordSubsetCreated(mode string) {
	m.subsetsCreated.WithLabelValues(mode).Inc()
}

// RecordRunHistoryWrite counts a run history insert.
func (m *StorageMetrics) RecordRunHistoryWrite(err error) {
	if err != nil {
		m.runHistoryWrites.WithLabelValues(StatusError).Inc()
		return
	}
	m.runHistoryWrites.WithLabelValues(StatusSuccess).Inc()
}
