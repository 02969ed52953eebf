package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(&conf.MQTTSettings{
		Broker:   "tcp://192.168.1.5:1883",
		Username: "meteor",
		Retain:   true,
	})
	assert.Equal(t, "tcp://192.168.1.5:1883", cfg.Broker)
	assert.Equal(t, "atomcam-meteor-detector", cfg.ClientID)
	assert.Equal(t, "atomcam/meteor", cfg.Topic)
	assert.True(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)

	cfg = ConfigFromSettings(&conf.MQTTSettings{Topic: "home/sky", ClientID: "roof"})
	assert.Equal(t, "home/sky", cfg.Topic)
	assert.Equal(t, "roof", cfg.ClientID)
}

func TestNewClientRequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestPublishBeforeConnect(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)

	assert.False(t, c.IsConnected())
	require.ErrorIs(t, c.Publish(context.Background(), "detection", []byte("{}")), ErrNotConnected)
	c.Disconnect()
}

func TestConnectCooldown(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, c.Connect(ctx))

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func TestJoinTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, topic, want string
	}{
		{"atomcam/meteor", "detection", "atomcam/meteor/detection"},
		{"atomcam/meteor/", "/night_complete", "atomcam/meteor/night_complete"},
		{"", "error", "error"},
		{"atomcam", "", "atomcam"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinTopic(tt.base, tt.topic))
	}
}
