package schedule

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/suncalc"
)

// Settings table keys read by the resolver
const (
	KeyEnabled            = "schedule.enabled"
	KeyIntervalMinutes    = "schedule.interval_minutes"
	KeyStartMode          = "schedule.start_mode"
	KeyStartTime          = "schedule.start_time"
	KeyStartOffsetMinutes = "schedule.start_offset_minutes"
	KeyEndMode            = "schedule.end_mode"
	KeyEndTime            = "schedule.end_time"
	KeyEndOffsetMinutes   = "schedule.end_offset_minutes"
	KeyLocationMode       = "schedule.location_mode"
	KeyLatitude           = "schedule.latitude"
	KeyLongitude          = "schedule.longitude"
)

// Keys lists every schedule override key
var Keys = []string{
	KeyEnabled, KeyIntervalMinutes,
	KeyStartMode, KeyStartTime, KeyStartOffsetMinutes,
	KeyEndMode, KeyEndTime, KeyEndOffsetMinutes,
	KeyLocationMode, KeyLatitude, KeyLongitude,
}

// Location modes
const (
	LocationConfig = "config"
	LocationCustom = "custom"
)

// GetLogger returns the schedule module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("schedule")
}

// SettingsReader is the part of the settings repository the resolver needs
type SettingsReader interface {
	GetAll(ctx context.Context) (map[string]string, error)
}

// Plan is the effective schedule for one observation night
type Plan struct {
	Date            string  `json:"date"`
	Enabled         bool    `json:"enabled"`
	IntervalMinutes int     `json:"interval_minutes"`
	Window          Window  `json:"-"`
	StartMode       string  `json:"start_mode"`
	EndMode         string  `json:"end_mode"`
	LocationMode    string  `json:"location_mode"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
}

// Resolver merges config file defaults with settings table overrides.
// Settings are re-read on every call so changes apply without a restart.
type Resolver struct {
	cfg      conf.ScheduleSettings
	settings SettingsReader
	loc      *time.Location
}

// NewResolver creates a resolver. settings may be nil, in which case only the
// config file values are used.
func NewResolver(cfg *conf.ScheduleSettings, settings SettingsReader) *Resolver {
	return &Resolver{cfg: *cfg, settings: settings, loc: Location(cfg.Timezone)}
}

// Location returns the configured time zone, falling back to time.Local
func Location(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		GetLogger().Warn("unknown timezone, using local time", logger.String("timezone", name), logger.Error(err))
		return time.Local
	}
	return loc
}

// Location returns the resolver's time zone
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// overrides reads the settings table; a failed read degrades to no overrides
func (r *Resolver) overrides(ctx context.Context) map[string]string {
	if r.settings == nil {
		return nil
	}
	values, err := r.settings.GetAll(ctx)
	if err != nil {
		GetLogger().Warn("failed to read settings overrides, using config file values", logger.Error(err))
		return nil
	}
	return values
}

// Resolve computes the plan for the night ending on the morning of obsDate.
func (r *Resolver) Resolve(ctx context.Context, obsDate time.Time) (Plan, error) {
	values := r.overrides(ctx)
	s := source{values: values}

	plan := Plan{
		Date:            obsDate.Format(DateLayout),
		Enabled:         s.boolean(KeyEnabled, r.cfg.Enabled),
		IntervalMinutes: s.integer(KeyIntervalMinutes, r.cfg.IntervalMinutes),
		StartMode:       s.str(KeyStartMode, r.cfg.StartMode),
		EndMode:         s.str(KeyEndMode, r.cfg.EndMode),
		LocationMode:    s.str(KeyLocationMode, LocationConfig),
		Latitude:        r.cfg.Latitude,
		Longitude:       r.cfg.Longitude,
	}
	if plan.IntervalMinutes < 0 {
		plan.IntervalMinutes = 0
	}

	startFixed, err := conf.ParseClock(s.str(KeyStartTime, r.cfg.StartTime))
	if err != nil {
		return plan, scheduleError(err, KeyStartTime)
	}
	endFixed, err := conf.ParseClock(s.str(KeyEndTime, r.cfg.EndTime))
	if err != nil {
		return plan, scheduleError(err, KeyEndTime)
	}

	if plan.StartMode == conf.ModeFixed && plan.EndMode == conf.ModeFixed {
		plan.Window = Window{Start: startFixed, End: endFixed}
		return plan, nil
	}

	if plan.LocationMode == LocationCustom {
		lat, latOK := s.float(KeyLatitude)
		lon, lonOK := s.float(KeyLongitude)
		if latOK && lonOK {
			plan.Latitude, plan.Longitude = lat, lon
		} else {
			GetLogger().Warn("custom location incomplete, using configured coordinates")
		}
	}

	sc := suncalc.NewSunCalc(plan.Latitude, plan.Longitude, r.loc)
	plan.Window = Window{
		Start: resolveEdge(plan.StartMode, startFixed, s.integer(KeyStartOffsetMinutes, r.cfg.StartOffsetMinutes), obsDate, sc.EveningTwilightEnd),
		End:   resolveEdge(plan.EndMode, endFixed, s.integer(KeyEndOffsetMinutes, r.cfg.EndOffsetMinutes), obsDate, sc.MorningTwilightStart),
	}

	GetLogger().Info("schedule resolved",
		logger.String("date", plan.Date),
		logger.String("window", plan.Window.String()),
		logger.String("start_mode", plan.StartMode),
		logger.String("end_mode", plan.EndMode))
	return plan, nil
}

// resolveEdge turns one window edge into a clock time. Twilight that cannot
// be computed (polar day or night) falls back to the fixed time.
func resolveEdge(mode string, fixed conf.Clock, offset int, obsDate time.Time, twilight func(time.Time) (time.Time, error)) conf.Clock {
	switch mode {
	case conf.ModeTwilight, conf.ModeTwilightOffset:
	default:
		return fixed
	}

	t, err := twilight(obsDate)
	if err != nil {
		GetLogger().Warn("twilight unavailable, using fixed time",
			logger.String("fixed", fixed.String()),
			logger.Error(err))
		return fixed
	}
	if mode == conf.ModeTwilightOffset {
		t = t.Add(time.Duration(offset) * time.Minute)
	}
	return ClockOf(t)
}

// source reads typed values from the settings map with config fallbacks.
// Unparsable values are logged and ignored.
type source struct {
	values map[string]string
}

func (s source) raw(key string) (string, bool) {
	v, ok := s.values[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (s source) str(key, fallback string) string {
	if v, ok := s.raw(key); ok {
		return v
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	v, ok := s.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		GetLogger().Warn("ignoring invalid integer setting", logger.String("key", key), logger.String("value", v))
		return fallback
	}
	return n
}

func (s source) float(key string) (float64, bool) {
	v, ok := s.raw(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		GetLogger().Warn("ignoring invalid number setting", logger.String("key", key), logger.String("value", v))
		return 0, false
	}
	return f, true
}

func (s source) boolean(key string, fallback bool) bool {
	v, ok := s.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		GetLogger().Warn("ignoring invalid boolean setting", logger.String("key", key), logger.String("value", v))
		return fallback
	}
	return b
}

func scheduleError(err error, key string) error {
	return errors.New(err).
		Component("schedule").
		Category(errors.CategoryConfiguration).
		Context("key", key).
		Build()
}
