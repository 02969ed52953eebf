package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/mqtt"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/notification"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/telemetry"
)

// LoggingHook writes every event to the structured log
type LoggingHook struct {
	log logger.Logger
}

// NewLoggingHook creates a hook logging through the pipeline module logger
func NewLoggingHook() *LoggingHook {
	return &LoggingHook{log: logger.Global().Module("pipeline")}
}

func (h *LoggingHook) Name() string { return "logging" }

func (h *LoggingHook) OnDetection(_ context.Context, ev DetectionEvent) error {
	h.log.Info("meteor detected",
		logger.String("date", ev.Date),
		logger.String("time", fmt.Sprintf("%02d:%02d", ev.Hour, ev.Minute)),
		logger.Int("lines", ev.LineCount),
		logger.String("image", ev.ImagePath))
	return nil
}

func (h *LoggingHook) OnNightComplete(_ context.Context, ev NightCompleteEvent) error {
	h.log.Info("night complete",
		logger.String("date", ev.Date),
		logger.Int("detections", ev.Count),
		logger.String("composite", ev.CompositeImage))
	return nil
}

func (h *LoggingHook) OnError(_ context.Context, ev ErrorEvent) error {
	fields := []logger.Field{logger.String("stage", ev.Stage), logger.Error(ev.Err)}
	for k, v := range ev.Context {
		fields = append(fields, logger.String(k, v))
	}
	h.log.Error("pipeline error", fields...)
	return nil
}

// Notifier is the notification.Notifier surface used by NotifyHook
type Notifier interface {
	Send(ctx context.Context, event, title, message string) error
	NotifyErrors() bool
}

// NotifyHook pushes events through shoutrrr services
type NotifyHook struct {
	n Notifier
}

// NewNotifyHook wraps a notifier
func NewNotifyHook(n Notifier) *NotifyHook {
	return &NotifyHook{n: n}
}

func (h *NotifyHook) Name() string { return "notify" }

func (h *NotifyHook) OnDetection(ctx context.Context, ev DetectionEvent) error {
	title := fmt.Sprintf("Meteor detected %s %02d:%02d", ev.Date, ev.Hour, ev.Minute)
	msg := fmt.Sprintf("%d line(s) detected at %02d:%02d on night %s", ev.LineCount, ev.Hour, ev.Minute, ev.Date)
	return h.n.Send(ctx, notification.EventDetection, title, msg)
}

func (h *NotifyHook) OnNightComplete(ctx context.Context, ev NightCompleteEvent) error {
	if ev.Count == 0 {
		return nil
	}
	title := fmt.Sprintf("Night %s complete", ev.Date)
	msg := fmt.Sprintf("%d meteor clip(s) detected", ev.Count)
	if ev.CompositeImage != "" {
		msg += "\ncomposite: " + ev.CompositeImage
	}
	return h.n.Send(ctx, notification.EventNightComplete, title, msg)
}

func (h *NotifyHook) OnError(ctx context.Context, ev ErrorEvent) error {
	if !h.n.NotifyErrors() {
		return nil
	}
	title := fmt.Sprintf("Pipeline %s error", ev.Stage)
	return h.n.Send(ctx, notification.EventError, title, errors.ScrubMessage(ev.Message()))
}

// MQTTHook publishes events as JSON below the configured base topic
type MQTTHook struct {
	client mqtt.Client
}

// NewMQTTHook wraps a connected or connectable client
func NewMQTTHook(c mqtt.Client) *MQTTHook {
	return &MQTTHook{client: c}
}

func (h *MQTTHook) Name() string { return "mqtt" }

func (h *MQTTHook) OnDetection(ctx context.Context, ev DetectionEvent) error {
	return h.publish(ctx, "detection", ev)
}

func (h *MQTTHook) OnNightComplete(ctx context.Context, ev NightCompleteEvent) error {
	return h.publish(ctx, "night_complete", ev)
}

func (h *MQTTHook) OnError(ctx context.Context, ev ErrorEvent) error {
	payload := struct {
		Stage   string            `json:"stage"`
		Error   string            `json:"error"`
		Context map[string]string `json:"context,omitempty"`
	}{ev.Stage, errors.ScrubMessage(ev.Message()), ev.Context}
	return h.publish(ctx, "error", payload)
}

func (h *MQTTHook) publish(ctx context.Context, topic string, v any) error {
	if !h.client.IsConnected() {
		if err := h.client.Connect(ctx); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return h.client.Publish(ctx, topic, payload)
}

// SentryHook forwards pipeline errors to Sentry
type SentryHook struct {
	NopHook
}

func (SentryHook) Name() string { return "sentry" }

func (SentryHook) OnError(_ context.Context, ev ErrorEvent) error {
	var ee *errors.EnhancedError
	if errors.As(ev.Err, &ee) {
		// EnhancedErrors already reach Sentry through the errors reporter
		return nil
	}
	telemetry.CaptureError(ev.Err, ev.Stage)
	return nil
}

// MetricsHook counts events in Prometheus
type MetricsHook struct {
	m   *metrics.PipelineMetrics
	now func() time.Time
}

// NewMetricsHook records into m
func NewMetricsHook(m *metrics.PipelineMetrics) *MetricsHook {
	return &MetricsHook{m: m, now: time.Now}
}

func (h *MetricsHook) Name() string { return "metrics" }

func (h *MetricsHook) OnDetection(context.Context, DetectionEvent) error {
	h.m.RecordDetection()
	return nil
}

func (h *MetricsHook) OnNightComplete(context.Context, NightCompleteEvent) error {
	h.m.SetLastRun(float64(h.now().Unix()))
	return nil
}

func (h *MetricsHook) OnError(_ context.Context, ev ErrorEvent) error {
	category := string(errors.CategoryGeneric)
	var ee *errors.EnhancedError
	if errors.As(ev.Err, &ee) {
		category = string(ee.Category)
	}
	h.m.RecordError(ev.Stage, category)
	return nil
}
