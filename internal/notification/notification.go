// Package notification delivers pipeline events to push services through shoutrrr.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRatePerMinute = 30
	burstSize            = 5
)

// Event kinds used as the metrics label
const (
	EventDetection     = "detection"
	EventNightComplete = "night_complete"
	EventError         = "error"
)

// ErrThrottled is returned when the rate limiter drops a message
var ErrThrottled = errors.NewStd("notification throttled")

// GetLogger returns the notification module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}

// Sender is the part of the shoutrrr router used for delivery
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier sends titled messages to every configured service URL
type Notifier struct {
	sender  Sender
	limiter *rate.Limiter
	metrics *metrics.NotificationMetrics
	errors  bool
}

// Option configures a Notifier
type Option func(*Notifier)

// WithSender replaces the shoutrrr router
func WithSender(s Sender) Option {
	return func(n *Notifier) { n.sender = s }
}

// WithMetrics records delivery outcomes
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// New builds a Notifier from settings. The URLs are parsed up front so a
// misconfigured service fails at startup instead of on the first meteor.
func New(settings *conf.NotificationSettings, opts ...Option) (*Notifier, error) {
	perMinute := settings.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}

	n := &Notifier{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burstSize),
		errors:  settings.NotifyErrors,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.sender != nil {
		return n, nil
	}

	if len(settings.URLs) == 0 {
		return nil, errors.Newf("notification enabled but no service urls configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(slices.Clone(settings.URLs)...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid notification url: %s", errors.ScrubMessage(err.Error()))).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	router.Timeout = defaultTimeout
	if settings.TimeoutSec > 0 {
		router.Timeout = time.Duration(settings.TimeoutSec) * time.Second
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	n.sender = router

	return n, nil
}

// NotifyErrors reports whether error events should be pushed
func (n *Notifier) NotifyErrors() bool {
	return n.errors
}

// Send delivers message to all services. The first service error is
// returned after every service has been tried.
func (n *Notifier) Send(ctx context.Context, event, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.limiter.Allow() {
		if n.metrics != nil {
			n.metrics.RecordThrottled()
		}
		GetLogger().Warn("notification dropped by rate limiter", logger.String("event", event))
		return ErrThrottled
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	start := time.Now()
	errs := n.sender.Send(message, &params)
	if n.metrics != nil {
		n.metrics.RecordSendDuration(time.Since(start).Seconds())
	}

	var firstErr error
	for _, e := range errs {
		if e != nil {
			firstErr = e
			break
		}
	}
	if firstErr != nil {
		if n.metrics != nil {
			n.metrics.RecordSent(event, metrics.StatusError)
		}
		return errors.New(fmt.Errorf("notification delivery failed: %s", errors.ScrubMessage(firstErr.Error()))).
			Component("notification").
			Category(errors.CategoryNotify).
			Context("event", event).
			Build()
	}

	if n.metrics != nil {
		n.metrics.RecordSent(event, metrics.StatusSuccess)
	}
	GetLogger().Debug("notification sent", logger.String("event", event))
	return nil
}
