package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DiskManagerMetrics contains Prometheus metrics for the download disk guard
type DiskManagerMetrics struct {
	registry *prometheus.Registry

	diskUsageBytes            prometheus.Gauge
	diskTotalBytes            prometheus.Gauge
	diskUtilizationPercentage prometheus.Gauge
	diskCheckDurationSeconds  prometheus.Histogram
	downloadsRefusedTotal     prometheus.Counter
}

// NewDiskManagerMetrics creates and registers new disk manager metrics
func NewDiskManagerMetrics(registry *prometheus.Registry) (*DiskManagerMetrics, error) {
	m := &DiskManagerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DiskManagerMetrics) initMetrics() {
	m.diskUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_disk_usage_bytes",
		Help: "Current disk usage in bytes",
	})

	m.diskTotalBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_disk_total_bytes",
		Help: "Total disk space in bytes",
	})

	m.diskUtilizationPercentage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_disk_utilization_percentage",
		Help: "Current disk utilization as a percentage",
	})

	m.diskCheckDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "diskmanager_disk_check_duration_seconds",
		Help:    "Time taken to check disk usage",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10), // 1ms to ~1s
	})

	m.downloadsRefusedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diskmanager_downloads_refused_total",
		Help: "Total number of downloads refused because the disk was too full",
	})
}

// Describe implements the Collector interface
func (m *DiskManagerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.diskUsageBytes.Describe(ch)
	m.diskTotalBytes.Describe(ch)
	m.diskUtilizationPercentage.Describe(ch)
	m.diskCheckDurationSeconds.Describe(ch)
	m.downloadsRefusedTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *DiskManagerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.diskUsageBytes.Collect(ch)
	m.diskTotalBytes.Collect(ch)
	m.diskUtilizationPercentage.Collect(ch)
	m.diskCheckDurationSeconds.Collect(ch)
	m.downloadsRefusedTotal.Collect(ch)
}

// UpdateDiskUsage updates disk usage metrics
func (m *DiskManagerMetrics) UpdateDiskUsage(usedBytes, totalBytes uint64) {
	m.diskUsageBytes.Set(float64(usedBytes))
	m.diskTotalBytes.Set(float64(totalBytes))

	var utilizationPercentage float64
	if totalBytes > 0 {
		utilizationPercentage = float64(usedBytes) / float64(totalBytes) * PercentageFactor
	}
	m.diskUtilizationPercentage.Set(utilizationPercentage)
}

// RecordDiskCheckDuration records the time taken to check disk usage
func (m *DiskManagerMetrics) RecordDiskCheckDuration(duration float64) {
	m.diskCheckDurationSeconds.Observe(duration)
}

// RecordDownloadRefused counts a download blocked by the usage limit
func (m *DiskManagerMetrics) RecordDownloadRefused() {
	m.downloadsRefusedTotal.Inc()
}
