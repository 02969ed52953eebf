// Package schedule resolves the observation window, run interval and
// detection parameters from the config file and the settings table.
package schedule

import (
	"fmt"
	"time"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/conf"
)

// DateLayout is the observation date format used for directories and keys
const DateLayout = "20060102"

const minutesPerDay = 24 * 60

// Window is the part of the night during which clips are processed.
// Start is inclusive and End exclusive. A window whose start is not before
// its end crosses midnight.
type Window struct {
	Start conf.Clock
	End   conf.Clock
}

// Slot is one camera hour directory
type Slot struct {
	Date string // YYYYMMDD of the directory, not the observation date
	Hour int
}

// String formats the window as HH:MM-HH:MM
func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// CrossesMidnight reports whether the window spans two calendar days
func (w Window) CrossesMidnight() bool {
	return w.Start.Minutes() >= w.End.Minutes()
}

// Contains reports whether the time of day c falls inside the window
func (w Window) Contains(c conf.Clock) bool {
	m, start, end := c.Minutes(), w.Start.Minutes(), w.End.Minutes()
	if w.CrossesMidnight() {
		return m >= start || m < end
	}
	return m >= start && m < end
}

// Extend moves the end of the window later by minutes, wrapping at midnight
func (w Window) Extend(minutes int) Window {
	end := ((w.End.Minutes()+minutes)%minutesPerDay + minutesPerDay) % minutesPerDay
	return Window{Start: w.Start, End: conf.Clock{Hour: end / 60, Minute: end % 60}}
}

// Slots lists the hour directories covering the window for the night that
// ends on the morning of obsDate, in chronological order. Evening hours are
// filed under the previous calendar day.
func (w Window) Slots(obsDate time.Time) []Slot {
	curr := obsDate.Format(DateLayout)
	prev := obsDate.AddDate(0, 0, -1).Format(DateLayout)

	lastHour := func(end conf.Clock) int {
		if end.Minute == 0 {
			return end.Hour - 1
		}
		return end.Hour
	}

	var slots []Slot
	if w.CrossesMidnight() {
		for h := w.Start.Hour; h < 24; h++ {
			slots = append(slots, Slot{Date: prev, Hour: h})
		}
		for h := 0; h <= lastHour(w.End); h++ {
			slots = append(slots, Slot{Date: curr, Hour: h})
		}
		return slots
	}

	date := curr
	if w.Start.Hour >= 12 {
		date = prev
	}
	for h := w.Start.Hour; h <= lastHour(w.End); h++ {
		slots = append(slots, Slot{Date: date, Hour: h})
	}
	return slots
}

// Start returns the wall-clock start of the slot in loc
func (s Slot) Start(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, s.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot date %q: %w", s.Date, err)
	}
	return day.Add(time.Duration(s.Hour) * time.Hour), nil
}

// ObservationDate returns the night a moment belongs to. Before local noon
// that is today (last night), otherwise tomorrow (tonight).
func ObservationDate(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if now.Hour() < 12 {
		return day
	}
	return day.AddDate(0, 0, 1)
}

// ParseDate parses a YYYYMMDD observation date in loc
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYYMMDD", date)
	}
	return t, nil
}

// ClockOf returns the time of day of t
func ClockOf(t time.Time) conf.Clock {
	return conf.Clock{Hour: t.Hour(), Minute: t.Minute()}
}
