package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSettings(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SettingsResponse](t, rec)

	assert.Empty(t, resp.Overrides)
	assert.Equal(t, "30", resp.Detection["min_line_length"])
	require.NotNil(t, resp.Schedule)
	assert.Equal(t, "22:00", resp.Schedule.Start)
	assert.Equal(t, "04:00", resp.Schedule.End)
	assert.Equal(t, 60, resp.Schedule.IntervalMinutes)
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/settings",
		`{"schedule.start_time":"21:30","schedule.interval_minutes":"30","detection.min_line_length":"45"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SettingsResponse](t, rec)

	assert.Equal(t, "21:30", resp.Overrides["schedule.start_time"])
	assert.Equal(t, "45", resp.Detection["min_line_length"])
	require.NotNil(t, resp.Schedule)
	assert.Equal(t, "21:30", resp.Schedule.Start)
	assert.Equal(t, 30, resp.Schedule.IntervalMinutes)

	rec = env.do(t, http.MethodDelete, "/api/v1/settings/detection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[SettingsResponse](t, rec)
	assert.Equal(t, "30", resp.Detection["min_line_length"])
	assert.Equal(t, "21:30", resp.Overrides["schedule.start_time"])
}

func TestUpdateSettings_Rejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown key", `{"camera.host":"x"}`},
		{"bad clock", `{"schedule.start_time":"25:00"}`},
		{"bad mode", `{"schedule.end_mode":"sunrise"}`},
		{"latitude range", `{"schedule.latitude":"91"}`},
		{"interval zero", `{"schedule.interval_minutes":"0"}`},
		{"fractional integer", `{"detection.min_line_length":"3.5"}`},
		{"cross field", `{"detection.canny_threshold1":"300"}`},
		{"empty body", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/v1/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	values, err := env.store.Settings.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values, "rejected updates must not be stored")
}

func TestValidateSetting(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateSetting("schedule.enabled", "false"))
	assert.NoError(t, validateSetting("schedule.start_offset_minutes", "-30"))
	assert.NoError(t, validateSetting("schedule.location_mode", "custom"))
	assert.NoError(t, validateSetting("detection.min_line_brightness", "12.5"))
	assert.NoError(t, validateSetting("schedule.latitude", ""), "empty clears a known key")
	assert.Error(t, validateSetting("schedule.unknown", ""))
	assert.Error(t, validateSetting("detection.mask_path", "/tmp/mask.png"))
}
