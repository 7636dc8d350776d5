// Package availability derives bookable dates and start times from the
// doctor's schedule, blocks and existing bookings. It is a pure function of
// its inputs.
package availability

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

const (
	DefaultHorizonDays = 21
	DefaultMaxDates    = 14
	defaultSlotStep    = 30
)

type Schedule struct {
	WorkDays   []time.Weekday
	WorkStart  wallclock.Clock
	WorkEnd    wallclock.Clock
	SlotStep   int
	LunchStart *wallclock.Clock
	LunchEnd   *wallclock.Clock
}

// ScheduleOf extracts the schedule from a doctor record.
func ScheduleOf(d model.Doctor) Schedule {
	return Schedule{
		WorkDays:   d.WorkDays,
		WorkStart:  d.WorkStart,
		WorkEnd:    d.WorkEnd,
		SlotStep:   d.SlotStepMin,
		LunchStart: d.LunchStart,
		LunchEnd:   d.LunchEnd,
	}
}

func (s Schedule) worksOn(wd time.Weekday) bool {
	for _, d := range s.WorkDays {
		if d == wd {
			return true
		}
	}
	return false
}

func (s Schedule) lunch() (wallclock.Interval, bool) {
	if s.LunchStart == nil || s.LunchEnd == nil || *s.LunchEnd <= *s.LunchStart {
		return wallclock.Interval{}, false
	}
	return wallclock.Interval{Start: *s.LunchStart, End: *s.LunchEnd}, true
}

// Day is everything occupying a single date.
type Day struct {
	Date         civil.Date
	BlockedSlots []model.BlockedSlot
	Booked       []model.Appointment
	// NotBefore drops candidates starting earlier; used when Date is today.
	NotBefore *wallclock.Clock
}

type Calculator struct {
	schedule Schedule
}

func New(s Schedule) *Calculator {
	if s.SlotStep <= 0 {
		s.SlotStep = defaultSlotStep
	}
	return &Calculator{schedule: s}
}

// Dates walks forward from the day after today and returns up to maxResults
// working, unblocked dates within horizonDays. Results are chronological.
func (c *Calculator) Dates(today civil.Date, blocked []civil.Date, horizonDays, maxResults int) []civil.Date {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxDates
	}

	skip := make(map[civil.Date]struct{}, len(blocked))
	for _, d := range blocked {
		skip[d] = struct{}{}
	}

	out := make([]civil.Date, 0, maxResults)
	for i := 1; i <= horizonDays && len(out) < maxResults; i++ {
		d := today.AddDays(i)
		if !c.schedule.worksOn(wallclock.Weekday(d)) {
			continue
		}
		if _, ok := skip[d]; ok {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Slots returns the start times on day at which an appointment of duration
// minutes fits inside working hours without touching lunch, a blocked slot or
// a booking. Results are chronological.
func (c *Calculator) Slots(day Day, duration int) []wallclock.Clock {
	if duration <= 0 || !c.schedule.worksOn(wallclock.Weekday(day.Date)) {
		return nil
	}

	busy := c.busy(day)

	var out []wallclock.Clock
	for start := c.schedule.WorkStart; start.Add(duration) <= c.schedule.WorkEnd; start = start.Add(c.schedule.SlotStep) {
		if day.NotBefore != nil && start < *day.NotBefore {
			continue
		}
		candidate := wallclock.Span(start, duration)
		if overlapsAny(candidate, busy) {
			continue
		}
		out = append(out, start)
	}
	return out
}

// Contains reports whether start is currently bookable on day.
func (c *Calculator) Contains(day Day, duration int, start wallclock.Clock) bool {
	for _, s := range c.Slots(day, duration) {
		if s == start {
			return true
		}
	}
	return false
}

func (c *Calculator) busy(day Day) []wallclock.Interval {
	busy := make([]wallclock.Interval, 0, len(day.BlockedSlots)+len(day.Booked)+1)
	if l, ok := c.schedule.lunch(); ok {
		busy = append(busy, l)
	}
	for _, b := range day.BlockedSlots {
		if b.Day != day.Date {
			continue
		}
		busy = append(busy, wallclock.Span(b.Start, b.DurationMin))
	}
	for _, a := range day.Booked {
		if !a.Status.Active() {
			continue
		}
		busy = append(busy, bookedInterval(day.Date, a))
	}
	return busy
}

// bookedInterval clips an appointment to the given date; bookings that spill
// over from the previous day start at midnight.
func bookedInterval(date civil.Date, a model.Appointment) wallclock.Interval {
	dayStart, dayEnd := wallclock.DayRange(date)
	start, end := a.StartAt, a.EndAt()
	if start.Before(dayStart) {
		start = dayStart
	}
	if end.After(dayEnd) {
		end = dayEnd
	}
	if !start.Before(end) {
		return wallclock.Interval{}
	}
	s := wallclock.Clock(start.Sub(dayStart) / time.Minute)
	e := wallclock.Clock(end.Sub(dayStart) / time.Minute)
	return wallclock.Interval{Start: s, End: e}
}

func overlapsAny(candidate wallclock.Interval, busy []wallclock.Interval) bool {
	for _, b := range busy {
		if b.Start == b.End {
			continue
		}
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
