// internal/suncalc/suncalc.go

package suncalc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// astronomicalDepression is the sun angle below the horizon that ends
// astronomical twilight
const astronomicalDepression = 18.0

// TwilightTimes holds the sun events of one calendar day in local time
type TwilightTimes struct {
	AstronomicalDawn time.Time // sun rises through -18°
	Sunrise          time.Time
	Sunset           time.Time
	AstronomicalDusk time.Time // sun sinks through -18°
}

// cacheEntry holds the cached times for a given date
type cacheEntry struct {
	times TwilightTimes
	date  time.Time
}

// SunCalc handles caching and calculation of twilight times
type SunCalc struct {
	cache    map[string]cacheEntry
	lock     sync.RWMutex
	observer astral.Observer
	loc      *time.Location
}

// NewSunCalc creates a SunCalc for an observer. Results are returned in loc;
// a nil loc selects time.Local.
func NewSunCalc(latitude, longitude float64, loc *time.Location) *SunCalc {
	if loc == nil {
		loc = time.Local
	}
	return &SunCalc{
		cache:    make(map[string]cacheEntry),
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
		loc:      loc,
	}
}

// GetTwilightTimes returns the sun events for the calendar day of date, using
// the cache if available. Near the poles twilight may not end at all, in
// which case an error is returned.
func (sc *SunCalc) GetTwilightTimes(date time.Time) (TwilightTimes, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dateKey := day.Format("2006-01-02")

	sc.lock.RLock()
	entry, exists := sc.cache[dateKey]
	sc.lock.RUnlock()
	if exists && entry.date.Equal(day) {
		return entry.times, nil
	}

	times, err := sc.calculate(day)
	if err != nil {
		return TwilightTimes{}, err
	}

	sc.lock.Lock()
	sc.cache[dateKey] = cacheEntry{times: times, date: day}
	sc.lock.Unlock()

	return times, nil
}

func (sc *SunCalc) calculate(day time.Time) (TwilightTimes, error) {
	dawn, err := astral.Dawn(sc.observer, day, astronomicalDepression)
	if err != nil {
		return TwilightTimes{}, fmt.Errorf("failed to calculate astronomical dawn: %w", err)
	}
	sunrise, err := astral.Sunrise(sc.observer, day)
	if err != nil {
		return TwilightTimes{}, fmt.Errorf("failed to calculate sunrise: %w", err)
	}
	sunset, err := astral.Sunset(sc.observer, day)
	if err != nil {
		return TwilightTimes{}, fmt.Errorf("failed to calculate sunset: %w", err)
	}
	dusk, err := astral.Dusk(sc.observer, day, astronomicalDepression)
	if err != nil {
		return TwilightTimes{}, fmt.Errorf("failed to calculate astronomical dusk: %w", err)
	}

	return TwilightTimes{
		AstronomicalDawn: dawn.In(sc.loc),
		Sunrise:          sunrise.In(sc.loc),
		Sunset:           sunset.In(sc.loc),
		AstronomicalDusk: dusk.In(sc.loc),
	}, nil
}

// EveningTwilightEnd returns when astronomical twilight ends on the evening
// before the observation date. An observation night is named after the
// morning it ends on.
func (sc *SunCalc) EveningTwilightEnd(obsDate time.Time) (time.Time, error) {
	times, err := sc.GetTwilightTimes(obsDate.AddDate(0, 0, -1))
	if err != nil {
		return time.Time{}, err
	}
	return times.AstronomicalDusk, nil
}

// MorningTwilightStart returns when astronomical twilight begins on the
// morning of the observation date.
func (sc *SunCalc) MorningTwilightStart(obsDate time.Time) (time.Time, error) {
	times, err := sc.GetTwilightTimes(obsDate)
	if err != nil {
		return time.Time{}, err
	}
	return times.AstronomicalDawn, nil
}
