package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/observability/metrics"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []string
	titles   []string
	err      error
}

func (f *fakeSender) Send(message string, params *stypes.Params) []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	if params != nil {
		if title, ok := params.Title(); ok {
			f.titles = append(f.titles, title)
		}
	}
	return []error{nil, f.err}
}

func TestNewRequiresURLs(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.NotificationSettings{Enabled: true})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewRejectsUnknownService(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.NotificationSettings{Enabled: true, URLs: []string{"nosuchservice://token@host"}})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token@")
}

func TestSendDeliversTitleAndMessage(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n, err := New(&conf.NotificationSettings{}, WithSender(sender))
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), EventDetection, "Meteor detected", "22:05 3 lines"))
	assert.Equal(t, []string{"22:05 3 lines"}, sender.messages)
	assert.Equal(t, []string{"Meteor detected"}, sender.titles)
}

func TestSendReportsServiceError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewNotificationMetrics(reg)
	require.NoError(t, err)

	sender := &fakeSender{err: fmt.Errorf("POST https://user:pw@hooks.example.com failed")}
	n, err := New(&conf.NotificationSettings{}, WithSender(sender), WithMetrics(m))
	require.NoError(t, err)

	err = n.Send(context.Background(), EventError, "", "download failed")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotify))
	assert.NotContains(t, err.Error(), "pw@")
	assert.InDelta(t, 1, sentCount(t, reg, EventError, metrics.StatusError), 0)
}

func TestSendThrottles(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewNotificationMetrics(reg)
	require.NoError(t, err)

	sender := &fakeSender{}
	n, err := New(&conf.NotificationSettings{RatePerMinute: 1}, WithSender(sender), WithMetrics(m))
	require.NoError(t, err)

	var throttled int
	for range burstSize + 3 {
		if err := n.Send(context.Background(), EventDetection, "t", "m"); errors.Is(err, ErrThrottled) {
			throttled++
		}
	}
	assert.Equal(t, 3, throttled)
	assert.Len(t, sender.messages, burstSize)
}

func TestSendHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n, err := New(&conf.NotificationSettings{}, WithSender(sender))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, n.Send(ctx, EventDetection, "t", "m"), context.Canceled)
	assert.Empty(t, sender.messages)
}

func sentCount(t *testing.T, reg *prometheus.Registry, event, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "notification_sent_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["event"] == event && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
