package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for the MQTT event publisher
type MQTTMetrics struct {
	registry *prometheus.Registry

	connectionStatus  prometheus.Gauge
	messagesDelivered prometheus.Counter
	messageSize       prometheus.Histogram
	errors            prometheus.Counter
	publishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates and registers new MQTT metrics
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connection_status",
		Help: "Current connection status to the MQTT broker (0 for disconnected, 1 for connected)",
	})
	m.messagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_messages_delivered_total",
		Help: "Total number of messages successfully delivered to the MQTT broker",
	})
	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_message_size_bytes",
		Help:    "Size of MQTT messages in bytes",
		Buckets: prometheus.ExponentialBuckets(64, BucketFactor2, BucketCount10), // 64B to ~32KB
	})
	m.errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_errors_total",
		Help: "Total number of MQTT errors",
	})
	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
	})
}

// Describe implements the Collector interface
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionStatus.Describe(ch)
	m.messagesDelivered.Describe(ch)
	m.messageSize.Describe(ch)
	m.errors.Describe(ch)
	m.publishLatency.Describe(ch)
}

// Collect implements the Collector interface
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionStatus.Collect(ch)
	m.messagesDelivered.Collect(ch)
	m.messageSize.Collect(ch)
	m.errors.Collect(ch)
	m.publishLatency.Collect(ch)
}

// UpdateConnectionStatus sets the connection gauge
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// IncrementMessagesDelivered counts a delivered message
func (m *MQTTMetrics) IncrementMessagesDelivered() {
	m.messagesDelivered.Inc()
}

// ObserveMessageSize records a payload size in bytes
func (m *MQTTMetrics) ObserveMessageSize(size float64) {
	m.messageSize.Observe(size)
}

// IncrementErrors counts an MQTT error
func (m *MQTTMetrics) IncrementErrors() {
	m.errors.Inc()
}

// StartPublishTimer returns a timer observing publish latency
func (m *MQTTMetrics) StartPublishTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.publishLatency)
}
