// Package wallclock holds all date/time arithmetic for the practice's local
// business time.
//
// Contract: appointment timestamps are local wall clock, not absolute
// instants. They travel as time.Time values in time.UTC whose fields equal
// the doctor's wall clock, and are stored in "timestamp without time zone"
// columns. Only Now converts an absolute instant into wall clock.
package wallclock

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

// Clock is a local time of day in minutes since midnight.
type Clock int

const (
	MinutesPerDay = 24 * 60

	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// NewClock builds a Clock from hours and minutes.
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, errs.New("invalid clock").Arg("value", s).Wrap(err)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

// ClockOf extracts the wall-clock time of day from t, ignoring its location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// Add shifts the clock by minutes without wrapping past midnight.
func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Valid reports whether c lies within a single day.
func (c Clock) Valid() bool { return c >= 0 && c < MinutesPerDay }

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, errs.New("invalid date").Arg("value", s).Wrap(err)
	}
	return d, nil
}

// Weekday returns the day of week of d.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Combine joins a date and a clock into a wall-clock timestamp.
func Combine(d civil.Date, c Clock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, time.UTC)
}

// Split is the inverse of Combine.
func Split(t time.Time) (civil.Date, Clock) {
	return civil.DateOf(t), ClockOf(t)
}

// Now returns the current wall clock at loc, expressed under the package
// contract (fields = local wall clock, location = UTC).
func Now(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	l := now.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}

// Today returns the local calendar date at loc.
func Today(now time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(Now(now, loc))
}

// DayRange returns the wall-clock bounds [start, end) of the given date.
func DayRange(d civil.Date) (time.Time, time.Time) {
	start := Combine(d, 0)
	return start, start.AddDate(0, 0, 1)
}

// Interval is a half-open [Start, End) range in minutes since midnight.
type Interval struct {
	Start Clock
	End   Clock
}

// Span builds the interval covering minutes starting at start.
func Span(start Clock, minutes int) Interval {
	return Interval{Start: start, End: start.Add(minutes)}
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// LoadLocation resolves a timezone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
