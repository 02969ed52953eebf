package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
)

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterValue(f *dto.MetricFamily, labels map[string]string) float64 {
	for _, metric := range f.GetMetric() {
		match := true
		for _, lp := range metric.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return metric.GetCounter().GetValue()
		}
	}
	return -1
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.RecordOperation(metrics.OpDetect, metrics.StatusSuccess)
	m.Pipeline.RecordOperation(metrics.OpDetect, metrics.StatusSuccess)
	m.Pipeline.RecordOperation(metrics.OpDetect, metrics.StatusError)
	m.Pipeline.RecordDetection()
	m.Pipeline.RecordClip("detected")
	m.Pipeline.SetNightDetections("20250101", 4)
	m.DiskManager.UpdateDiskUsage(50, 200)
	m.MQTT.UpdateConnectionStatus(true)
	m.Notification.RecordThrottled()

	families := gather(t, m)

	ops := families["meteor_operations_total"]
	require.NotNil(t, ops)
	assert.InDelta(t, 2, counterValue(ops, map[string]string{"operation": "detect", "status": "success"}), 1e-9)
	assert.InDelta(t, 1, counterValue(ops, map[string]string{"operation": "detect", "status": "error"}), 1e-9)

	require.NotNil(t, families["meteor_detections_total"])
	assert.InDelta(t, 1, families["meteor_detections_total"].GetMetric()[0].GetCounter().GetValue(), 1e-9)

	night := families["meteor_night_detections"]
	require.NotNil(t, night)
	assert.InDelta(t, 4, night.GetMetric()[0].GetGauge().GetValue(), 1e-9)

	util := families["diskmanager_disk_utilization_percentage"]
	require.NotNil(t, util)
	assert.InDelta(t, 25, util.GetMetric()[0].GetGauge().GetValue(), 1e-9)

	assert.InDelta(t, 1, families["mqtt_connection_status"].GetMetric()[0].GetGauge().GetValue(), 1e-9)
	assert.InDelta(t, 1, families["notification_throttled_total"].GetMetric()[0].GetCounter().GetValue(), 1e-9)
	assert.Contains(t, families, "go_goroutines")
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Pipeline.RecordDetection()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meteor_detections_total 1")
}

func TestPipelineMetrics_ImplementsRecorder(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	var r metrics.Recorder = m.Pipeline
	r.RecordDuration(metrics.OpRun, 1.5)
	r.RecordError(metrics.OpDownload, "network")

	families := gather(t, m)
	assert.InDelta(t, 1, counterValue(families["meteor_errors_total"], map[string]string{"operation": "download"}), 1e-9)
	hist := families["meteor_operation_duration_seconds"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
}
