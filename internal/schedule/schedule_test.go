package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

type mapSettings map[string]string

func (m mapSettings) GetAll(context.Context) (map[string]string, error) {
	return m, nil
}

type failingSettings struct{}

func (failingSettings) GetAll(context.Context) (map[string]string, error) {
	return nil, errors.NewStd("database is locked")
}

func clock(t *testing.T, s string) conf.Clock {
	t.Helper()
	c, err := conf.ParseClock(s)
	require.NoError(t, err)
	return c
}

func jst() *time.Location {
	return time.FixedZone("JST", 9*60*60)
}

func baseSchedule() *conf.ScheduleSettings {
	return &conf.ScheduleSettings{
		Enabled:         true,
		IntervalMinutes: 15,
		StartMode:       conf.ModeFixed,
		StartTime:       "22:00",
		EndMode:         conf.ModeFixed,
		EndTime:         "06:00",
		Latitude:        35.6895,
		Longitude:       139.6917,
	}
}

func newTestResolver(settings SettingsReader) *Resolver {
	r := NewResolver(baseSchedule(), settings)
	r.loc = jst()
	return r
}

func TestWindow_Contains(t *testing.T) {
	t.Parallel()

	night := Window{Start: clock(t, "22:00"), End: clock(t, "06:00")}
	evening := Window{Start: clock(t, "19:30"), End: clock(t, "23:00")}

	tests := []struct {
		name   string
		window Window
		at     string
		want   bool
	}{
		{"start inclusive", night, "22:00", true},
		{"before midnight", night, "23:59", true},
		{"after midnight", night, "03:10", true},
		{"end exclusive", night, "06:00", false},
		{"daytime", night, "12:00", false},
		{"evening inside", evening, "19:30", true},
		{"evening before", evening, "19:29", false},
		{"evening end", evening, "23:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.window.Contains(clock(t, tt.at)))
		})
	}
}

func TestWindow_Extend(t *testing.T) {
	t.Parallel()

	w := Window{Start: clock(t, "22:00"), End: clock(t, "23:50")}
	ext := w.Extend(15)
	assert.Equal(t, "00:05", ext.End.String())
	assert.True(t, ext.CrossesMidnight())
	assert.True(t, ext.Contains(clock(t, "00:01")))
	assert.Equal(t, "22:00-06:15", Window{Start: clock(t, "22:00"), End: clock(t, "06:00")}.Extend(15).String())
}

func TestWindow_Slots(t *testing.T) {
	t.Parallel()

	obs := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	slots := Window{Start: clock(t, "22:00"), End: clock(t, "02:00")}.Slots(obs)
	assert.Equal(t, []Slot{
		{Date: "20250101", Hour: 22},
		{Date: "20250101", Hour: 23},
		{Date: "20250102", Hour: 0},
		{Date: "20250102", Hour: 1},
	}, slots)

	slots = Window{Start: clock(t, "23:30"), End: clock(t, "00:30")}.Slots(obs)
	assert.Equal(t, []Slot{{Date: "20250101", Hour: 23}, {Date: "20250102", Hour: 0}}, slots)

	slots = Window{Start: clock(t, "01:00"), End: clock(t, "03:00")}.Slots(obs)
	assert.Equal(t, []Slot{{Date: "20250102", Hour: 1}, {Date: "20250102", Hour: 2}}, slots)

	slots = Window{Start: clock(t, "19:00"), End: clock(t, "20:15")}.Slots(obs)
	assert.Equal(t, []Slot{{Date: "20250101", Hour: 19}, {Date: "20250101", Hour: 20}}, slots)
}

func TestSlot_Start(t *testing.T) {
	t.Parallel()

	start, err := Slot{Date: "20250101", Hour: 23}.Start(jst())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 23, 0, 0, 0, jst()), start)

	_, err = Slot{Date: "2025-01-01", Hour: 1}.Start(jst())
	require.Error(t, err)
}

func TestObservationDate(t *testing.T) {
	t.Parallel()

	loc := jst()
	assert.Equal(t, "20250102", ObservationDate(time.Date(2025, 1, 2, 3, 0, 0, 0, loc)).Format(DateLayout))
	assert.Equal(t, "20250102", ObservationDate(time.Date(2025, 1, 2, 11, 59, 0, 0, loc)).Format(DateLayout))
	assert.Equal(t, "20250103", ObservationDate(time.Date(2025, 1, 2, 12, 0, 0, 0, loc)).Format(DateLayout))
	assert.Equal(t, "20250101", ObservationDate(time.Date(2024, 12, 31, 22, 0, 0, 0, loc)).Format(DateLayout))
}

func TestResolve_FixedFromConfig(t *testing.T) {
	t.Parallel()

	plan, err := newTestResolver(nil).Resolve(t.Context(), time.Date(2025, 1, 2, 0, 0, 0, 0, jst()))
	require.NoError(t, err)
	assert.Equal(t, "20250102", plan.Date)
	assert.True(t, plan.Enabled)
	assert.Equal(t, 15, plan.IntervalMinutes)
	assert.Equal(t, "22:00-06:00", plan.Window.String())
}

func TestResolve_SettingsOverride(t *testing.T) {
	t.Parallel()

	r := newTestResolver(mapSettings{
		KeyStartTime:       "21:15",
		KeyEndTime:         "04:45",
		KeyIntervalMinutes: "0",
		KeyEnabled:         "false",
		"unrelated.key":    "x",
	})
	plan, err := r.Resolve(t.Context(), time.Date(2025, 1, 2, 0, 0, 0, 0, jst()))
	require.NoError(t, err)
	assert.Equal(t, "21:15-04:45", plan.Window.String())
	assert.Zero(t, plan.IntervalMinutes)
	assert.False(t, plan.Enabled)
}

func TestResolve_InvalidValuesFallBack(t *testing.T) {
	t.Parallel()

	plan, err := newTestResolver(mapSettings{KeyIntervalMinutes: "soon", KeyEnabled: "maybe"}).
		Resolve(t.Context(), time.Date(2025, 1, 2, 0, 0, 0, 0, jst()))
	require.NoError(t, err)
	assert.Equal(t, 15, plan.IntervalMinutes)
	assert.True(t, plan.Enabled)

	_, err = newTestResolver(mapSettings{KeyStartTime: "25:99"}).
		Resolve(t.Context(), time.Date(2025, 1, 2, 0, 0, 0, 0, jst()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestResolve_SettingsReadFailure(t *testing.T) {
	t.Parallel()

	plan, err := newTestResolver(failingSettings{}).Resolve(t.Context(), time.Date(2025, 1, 2, 0, 0, 0, 0, jst()))
	require.NoError(t, err)
	assert.Equal(t, "22:00-06:00", plan.Window.String())
}

func TestResolve_Twilight(t *testing.T) {
	t.Parallel()

	obs := time.Date(2025, 1, 15, 0, 0, 0, 0, jst())
	plan, err := newTestResolver(mapSettings{
		KeyStartMode: conf.ModeTwilight,
		KeyEndMode:   conf.ModeTwilight,
	}).Resolve(t.Context(), obs)
	require.NoError(t, err)

	// Tokyo in mid January: astronomical dusk around 18:20, dawn around 05:20
	assert.InDelta(t, 18*60+20, plan.Window.Start.Minutes(), 45)
	assert.InDelta(t, 5*60+20, plan.Window.End.Minutes(), 45)
	assert.True(t, plan.Window.CrossesMidnight())
}

func TestResolve_TwilightOffset(t *testing.T) {
	t.Parallel()

	obs := time.Date(2025, 1, 15, 0, 0, 0, 0, jst())
	base, err := newTestResolver(mapSettings{
		KeyStartMode: conf.ModeTwilight,
		KeyEndMode:   conf.ModeTwilight,
	}).Resolve(t.Context(), obs)
	require.NoError(t, err)

	shifted, err := newTestResolver(mapSettings{
		KeyStartMode:          conf.ModeTwilightOffset,
		KeyStartOffsetMinutes: "30",
		KeyEndMode:            conf.ModeTwilightOffset,
		KeyEndOffsetMinutes:   "-20",
	}).Resolve(t.Context(), obs)
	require.NoError(t, err)

	assert.Equal(t, base.Window.Start.Minutes()+30, shifted.Window.Start.Minutes())
	assert.Equal(t, base.Window.End.Minutes()-20, shifted.Window.End.Minutes())
}

func TestResolve_CustomLocation(t *testing.T) {
	t.Parallel()

	obs := time.Date(2025, 1, 15, 0, 0, 0, 0, jst())
	plan, err := newTestResolver(mapSettings{
		KeyStartMode:    conf.ModeTwilight,
		KeyEndMode:      conf.ModeFixed,
		KeyLocationMode: LocationCustom,
		KeyLatitude:     "43.0621",
		KeyLongitude:    "141.3544",
	}).Resolve(t.Context(), obs)
	require.NoError(t, err)
	assert.InDelta(t, 43.0621, plan.Latitude, 1e-9)
	assert.InDelta(t, 141.3544, plan.Longitude, 1e-9)
	assert.Equal(t, "06:00", plan.Window.End.String())

	partial, err := newTestResolver(mapSettings{
		KeyStartMode:    conf.ModeTwilight,
		KeyLocationMode: LocationCustom,
		KeyLatitude:     "43.0621",
	}).Resolve(t.Context(), obs)
	require.NoError(t, err)
	assert.InDelta(t, 35.6895, partial.Latitude, 1e-9)
}

func TestResolve_PolarSummerFallsBackToFixed(t *testing.T) {
	t.Parallel()

	obs := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
	r := newTestResolver(mapSettings{
		KeyStartMode:    conf.ModeTwilight,
		KeyEndMode:      conf.ModeTwilight,
		KeyLocationMode: LocationCustom,
		KeyLatitude:     "78.2232",
		KeyLongitude:    "15.6267",
	})
	r.loc = time.UTC

	plan, err := r.Resolve(t.Context(), obs)
	require.NoError(t, err)
	assert.Equal(t, "22:00-06:00", plan.Window.String())
}

func TestResolveDetection(t *testing.T) {
	t.Parallel()

	base := &conf.DetectionSettings{
		MinLineLength:       30,
		CannyThreshold1:     100,
		CannyThreshold2:     200,
		HoughThreshold:      25,
		MaxLineGap:          5,
		ExposureDurationSec: 1.0,
		MinLineBrightness:   20,
	}

	t.Run("no settings", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, *base, ResolveDetection(t.Context(), nil, base))
	})

	t.Run("partial override", func(t *testing.T) {
		t.Parallel()
		got := ResolveDetection(t.Context(), mapSettings{
			"detection.min_line_length":     "40",
			"detection.hough_threshold":     "35",
			"detection.min_line_brightness": "25.5",
			"schedule.start_time":           "21:00",
		}, base)
		assert.Equal(t, 40, got.MinLineLength)
		assert.Equal(t, 35, got.HoughThreshold)
		assert.InDelta(t, 25.5, got.MinLineBrightness, 1e-9)
		assert.Equal(t, 100, got.CannyThreshold1)
		assert.Equal(t, 5, got.MaxLineGap)
	})

	t.Run("invalid set rejected", func(t *testing.T) {
		t.Parallel()
		got := ResolveDetection(t.Context(), mapSettings{
			"detection.min_line_length":    "40",
			"detection.exclude_bottom_pct": "75",
		}, base)
		assert.Equal(t, *base, got)
	})

	t.Run("current values", func(t *testing.T) {
		t.Parallel()
		got := CurrentDetection(t.Context(), mapSettings{"detection.min_line_brightness": "30"}, base)
		assert.Equal(t, "30", got["min_line_brightness"])
		assert.Equal(t, "25", got["hough_threshold"])
		assert.Equal(t, "0", got["exclude_bottom_pct"])
		assert.Len(t, got, len(DetectionKeys))
	})
}
