package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWith_Defaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "camera:\n  host: 192.168.1.50\n")
	settings, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", settings.Camera.Host)
	assert.Equal(t, "sdcard/record", settings.Camera.BasePath)
	assert.Equal(t, 30, settings.Detection.MinLineLength)
	assert.Equal(t, 50, settings.Detection.HoughThreshold)
	assert.InDelta(t, 1.0, settings.Detection.ExposureDurationSec, 1e-9)
	assert.InDelta(t, 20.0, settings.Detection.MinLineBrightness, 1e-9)
	assert.Equal(t, "22:00", settings.Schedule.StartTime)
	assert.Equal(t, "sqlite", settings.Database.Type)
	assert.Equal(t, 8080, settings.Web.Port)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestLoadWith_EmbeddedDefaultIsValid(t *testing.T) {
	t.Parallel()

	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)

	settings, err := LoadWith(viper.New(), writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, "atomcam.local", settings.Camera.Host)
	assert.Equal(t, ModeFixed, settings.Schedule.EndMode)
}

func TestLoadWith_ValidationFailure(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "detection:\n  exclude_bottom_pct: 75\nschedule:\n  start_mode: sunset\n")
	_, err := LoadWith(viper.New(), path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
	assert.Contains(t, err.Error(), "exclude_bottom_pct")
	assert.Contains(t, err.Error(), "start_mode")
}

func TestLoadWith_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

//nolint:paralleltest // uses t.Setenv
func TestLoadWith_EnvironmentOverride(t *testing.T) {
	t.Setenv("ATOMCAM_CAMERA_HOST", "cam.example")
	t.Setenv("ATOMCAM_WEB_PORT", "9090")

	settings, err := LoadWith(viper.New(), writeConfig(t, "camera:\n  host: ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "cam.example", settings.Camera.Host)
	assert.Equal(t, 9090, settings.Web.Port)
}

func TestValidateSettings_Sections(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		settings, err := LoadWith(viper.New(), writeConfig(t, "debug: false\n"))
		require.NoError(t, err)
		return settings
	}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantMsg string
	}{
		{"empty host", func(s *Settings) { s.Camera.Host = " " }, "camera host"},
		{"canny order", func(s *Settings) { s.Detection.CannyThreshold1 = 300 }, "canny_threshold1"},
		{"zero exposure", func(s *Settings) { s.Detection.ExposureDurationSec = 0 }, "exposure_duration_sec"},
		{"bad clock", func(s *Settings) { s.Schedule.StartTime = "25:99" }, "start_time"},
		{"bad timezone", func(s *Settings) { s.Schedule.Timezone = "Mars/Base" }, "timezone"},
		{"unknown db", func(s *Settings) { s.Database.Type = "postgres" }, "database type"},
		{"web port", func(s *Settings) { s.Web.Port = 0 }, "web port"},
		{"notify without urls", func(s *Settings) { s.Notification.Enabled = true }, "notification urls"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true; s.MQTT.Broker = "" }, "MQTT broker"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry dsn"},
		{"disk usage", func(s *Settings) { s.Paths.MaxDiskUsage = 120 }, "max_disk_usage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := valid()
			tt.mutate(settings)
			err := ValidateSettings(settings)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	c, err := ParseClock("05:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 5, Minute: 30}, c)
	assert.Equal(t, 330, c.Minutes())
	assert.Equal(t, "05:30", c.String())

	_, err = ParseClock("5pm")
	require.Error(t, err)
}

func TestSaveYAMLConfig_RoundTrip(t *testing.T) {
	t.Parallel()

	settings, err := LoadWith(viper.New(), writeConfig(t, "detection:\n  hough_threshold: 80\n"))
	require.NoError(t, err)
	settings.Camera.Host = "10.0.0.9"

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	reloaded, err := LoadWith(viper.New(), out)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", reloaded.Camera.Host)
	assert.Equal(t, 80, reloaded.Detection.HoughThreshold)
}

func TestExpandPath(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "atomcam"), ExpandPath("~/atomcam"))
	assert.Equal(t, "/var/lib/x", ExpandPath("/var/lib/x"))
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateEnvLatitude("35.5"))
	require.Error(t, validateEnvLatitude("91"))
	require.NoError(t, validateEnvLongitude("-120"))
	require.Error(t, validateEnvLongitude("abc"))
	require.NoError(t, validateEnvPort("8080"))
	require.Error(t, validateEnvPort("70000"))
	require.NoError(t, validateEnvBool("true"))
	require.Error(t, validateEnvBool("yes"))
}
