// Package telemetry provides opt-in error reporting to Sentry.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

var sentryInitialized atomic.Bool

// GetLogger returns the telemetry module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Option adjusts the Sentry client options before Init
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK when enabled in settings and
// installs the enhanced error reporter. Disabled telemetry is not an error.
func InitSentry(settings *conf.SentrySettings, version string, opts ...Option) error {
	if !settings.Enabled {
		GetLogger().Debug("sentry telemetry is disabled")
		return nil
	}
	if settings.DSN == "" {
		return errors.Newf("sentry enabled but no dsn configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          fmt.Sprintf("atomcam-meteor-detector@%s", version),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	sentryInitialized.Store(true)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	GetLogger().Info("sentry telemetry initialized", logger.String("release", options.Release))
	return nil
}

// Enabled reports whether InitSentry configured a client
func Enabled() bool {
	return sentryInitialized.Load()
}

// applyPrivacyFilters strips host identity and camera credentials from events
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}

	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	return event
}

// CaptureError reports err tagged with the component that hit it
func CaptureError(err error, component string) {
	if !Enabled() || err == nil {
		return
	}

	scrubbed := errors.ScrubMessage(err.Error())
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetContext("error", map[string]any{
			"type":             fmt.Sprintf("%T", err),
			"scrubbed_message": scrubbed,
		})
		scope.SetFingerprint([]string{component, scrubbed})

		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = scrubbed
		event.Exception = []sentry.Exception{{
			Type:  component + " error",
			Value: scrubbed,
		}}
		sentry.CaptureEvent(event)
	})
}

// CaptureMessage reports a message at level
func CaptureMessage(message string, level sentry.Level, component string) {
	if !Enabled() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		sentry.CaptureMessage(errors.ScrubMessage(message))
	})
}

// Flush waits for buffered events to be sent
func Flush(timeout time.Duration) {
	if !Enabled() {
		return
	}
	sentry.Flush(timeout)
}
