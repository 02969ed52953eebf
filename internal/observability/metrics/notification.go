package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains Prometheus metrics for push notifications
type NotificationMetrics struct {
	registry *prometheus.Registry

	sentTotal      *prometheus.CounterVec
	throttledTotal prometheus.Counter
	sendDuration   prometheus.Histogram
}

// NewNotificationMetrics creates and registers new notification metrics
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.sentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_sent_total",
			Help: "Total number of notifications sent by event type and outcome",
		},
		[]string{"event", "status"},
	)
	m.throttledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_throttled_total",
		Help: "Total number of notifications dropped by the rate limiter",
	})
	m.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_send_duration_seconds",
		Help:    "Time taken to deliver a notification to all services",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
	})
}

// Describe implements the Collector interface
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.sentTotal.Describe(ch)
	m.throttledTotal.Describe(ch)
	m.sendDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.sentTotal.Collect(ch)
	m.throttledTotal.Collect(ch)
	m.sendDuration.Collect(ch)
}

// RecordSent counts a notification attempt
func (m *NotificationMetrics) RecordSent(event, status string) {
	m.sentTotal.WithLabelValues(event, status).Inc()
}

// RecordThrottled counts a notification dropped by the rate limiter
func (m *NotificationMetrics) RecordThrottled() {
	m.throttledTotal.Inc()
}

// RecordSendDuration records delivery time in seconds
func (m *NotificationMetrics) RecordSendDuration(seconds float64) {
	m.sendDuration.Observe(seconds)
}
