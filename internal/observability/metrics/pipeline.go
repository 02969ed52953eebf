package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for pipeline runs and clips
type PipelineMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec

	clipsTotal       *prometheus.CounterVec
	detectionsTotal  prometheus.Counter
	nightDetections  *prometheus.GaugeVec
	lastRunTimestamp prometheus.Gauge
}

// NewPipelineMetrics creates and registers new pipeline metrics
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteor_operations_total",
			Help: "Total number of pipeline operations by outcome",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meteor_operation_duration_seconds",
			Help:    "Time taken by pipeline operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount15), // 10ms to ~5min
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteor_errors_total",
			Help: "Total number of pipeline errors by stage and category",
		},
		[]string{"operation", "error_type"},
	)

	m.clipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteor_clips_processed_total",
			Help: "Total number of clips processed by resulting status",
		},
		[]string{"status"},
	)

	m.detectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meteor_detections_total",
		Help: "Total number of clips in which a meteor was detected",
	})

	m.nightDetections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meteor_night_detections",
			Help: "Cumulative detected clips of an observation night",
		},
		[]string{"date"},
	)

	m.lastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meteor_last_run_timestamp_seconds",
		Help: "Unix time at which the last pipeline run finished",
	})
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.clipsTotal.Describe(ch)
	m.detectionsTotal.Describe(ch)
	m.nightDetections.Describe(ch)
	m.lastRunTimestamp.Describe(ch)
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.clipsTotal.Collect(ch)
	m.detectionsTotal.Collect(ch)
	m.nightDetections.Collect(ch)
	m.lastRunTimestamp.Collect(ch)
}

// RecordOperation implements Recorder
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordClip counts a clip that reached status
func (m *PipelineMetrics) RecordClip(status string) {
	m.clipsTotal.WithLabelValues(status).Inc()
}

// RecordDetection counts one detected clip
func (m *PipelineMetrics) RecordDetection() {
	m.detectionsTotal.Inc()
}

// SetNightDetections publishes the cumulative count of a night
func (m *PipelineMetrics) SetNightDetections(date string, count int) {
	m.nightDetections.WithLabelValues(date).Set(float64(count))
}

// SetLastRun records the finish time of a run in unix seconds
func (m *PipelineMetrics) SetLastRun(unixSeconds float64) {
	m.lastRunTimestamp.Set(unixSeconds)
}
