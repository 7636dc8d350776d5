package availability

import (
	"math/rand"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// 2026-10-19 is a Monday.
var monday = civil.Date{Year: 2026, Month: time.October, Day: 19}

func clock(h, m int) *wallclock.Clock {
	c := wallclock.NewClock(h, m)
	return &c
}

func officeHours() Schedule {
	return Schedule{
		WorkDays:   weekdays,
		WorkStart:  wallclock.NewClock(9, 0),
		WorkEnd:    wallclock.NewClock(13, 0),
		SlotStep:   30,
		LunchStart: clock(11, 0),
		LunchEnd:   clock(11, 30),
	}
}

func TestDatesSkipsWeekendsAndBlockedDays(t *testing.T) {
	calc := New(officeHours())
	blocked := []civil.Date{monday.AddDays(2)} // Wednesday

	dates := calc.Dates(monday, blocked, 14, 14)

	require.NotEmpty(t, dates)
	assert.Equal(t, monday.AddDays(1), dates[0], "starts tomorrow")
	for i, d := range dates {
		wd := wallclock.Weekday(d)
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
		assert.NotEqual(t, monday.AddDays(2), d)
		if i > 0 {
			assert.True(t, dates[i-1].Before(d), "chronological")
		}
	}
	// 14 days ahead hold 10 working days, one blocked.
	assert.Len(t, dates, 9)
}

func TestDatesStopsAtMaxResults(t *testing.T) {
	calc := New(officeHours())
	dates := calc.Dates(monday, nil, 21, 3)
	assert.Equal(t, []civil.Date{monday.AddDays(1), monday.AddDays(2), monday.AddDays(3)}, dates)
}

func TestSlotsRespectLunchBlocksAndBookings(t *testing.T) {
	calc := New(officeHours())
	day := monday.AddDays(1)

	slots := calc.Slots(Day{
		Date: day,
		BlockedSlots: []model.BlockedSlot{
			{Day: day, Start: wallclock.NewClock(9, 30), DurationMin: 30},
		},
		Booked: []model.Appointment{
			{StartAt: wallclock.Combine(day, wallclock.NewClock(12, 0)), DurationMin: 30, Status: model.StatusPending},
			{StartAt: wallclock.Combine(day, wallclock.NewClock(10, 0)), DurationMin: 30, Status: model.StatusRejected},
		},
	}, 30)

	assert.Equal(t, []wallclock.Clock{
		wallclock.NewClock(9, 0),
		wallclock.NewClock(10, 0),
		wallclock.NewClock(10, 30),
		wallclock.NewClock(11, 30),
		wallclock.NewClock(12, 30),
	}, slots)
}

func TestSlotsLongDurationMustFitBeforeLunchAndClose(t *testing.T) {
	calc := New(officeHours())
	slots := calc.Slots(Day{Date: monday.AddDays(1)}, 60)

	assert.Equal(t, []wallclock.Clock{
		wallclock.NewClock(9, 0),
		wallclock.NewClock(9, 30),
		wallclock.NewClock(10, 0),
		wallclock.NewClock(11, 30),
		wallclock.NewClock(12, 0),
	}, slots)
}

func TestSlotsEmptyWhenWholeDayBlocked(t *testing.T) {
	calc := New(officeHours())
	day := monday.AddDays(1)

	slots := calc.Slots(Day{
		Date: day,
		BlockedSlots: []model.BlockedSlot{
			{Day: day, Start: wallclock.NewClock(9, 0), DurationMin: 120},
			{Day: day, Start: wallclock.NewClock(11, 0), DurationMin: 120},
		},
	}, 30)

	assert.Empty(t, slots)
}

func TestSlotsEmptyOnDayOff(t *testing.T) {
	calc := New(officeHours())
	assert.Empty(t, calc.Slots(Day{Date: monday.AddDays(5)}, 30)) // Saturday
}

func TestSlotsNotBeforeDropsPastStarts(t *testing.T) {
	calc := New(officeHours())
	slots := calc.Slots(Day{Date: monday, NotBefore: clock(12, 10)}, 30)
	assert.Equal(t, []wallclock.Clock{wallclock.NewClock(12, 30)}, slots)
}

func TestContains(t *testing.T) {
	calc := New(officeHours())
	day := Day{Date: monday.AddDays(1)}
	assert.True(t, calc.Contains(day, 30, wallclock.NewClock(9, 0)))
	assert.False(t, calc.Contains(day, 30, wallclock.NewClock(11, 0)))
	assert.False(t, calc.Contains(day, 30, wallclock.NewClock(9, 15)))
}

func TestSlotsNeverIntersectBusyIntervals(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	day := monday.AddDays(1)

	for i := 0; i < 500; i++ {
		start := wallclock.Clock(rng.Intn(8*60) + 6*60)
		end := start.Add(60 + rng.Intn(8*60))
		step := []int{10, 15, 20, 30, 45, 60}[rng.Intn(6)]
		s := Schedule{WorkDays: weekdays, WorkStart: start, WorkEnd: end, SlotStep: step}
		if rng.Intn(2) == 0 {
			ls := start.Add(rng.Intn(int(end - start)))
			le := ls.Add(15 + rng.Intn(60))
			s.LunchStart, s.LunchEnd = &ls, &le
		}

		var blocked []model.BlockedSlot
		for j := rng.Intn(4); j > 0; j-- {
			blocked = append(blocked, model.BlockedSlot{
				Day:         day,
				Start:       start.Add(rng.Intn(int(end - start))),
				DurationMin: 5 + rng.Intn(90),
			})
		}
		var booked []model.Appointment
		for j := rng.Intn(5); j > 0; j-- {
			at := start.Add(rng.Intn(int(end - start)))
			booked = append(booked, model.Appointment{
				StartAt:     wallclock.Combine(day, at),
				DurationMin: 10 + rng.Intn(80),
				Status:      model.StatusConfirmed,
			})
		}

		duration := []int{15, 20, 30, 45, 60, 90}[rng.Intn(6)]
		slots := New(s).Slots(Day{Date: day, BlockedSlots: blocked, Booked: booked}, duration)

		for k, slot := range slots {
			cand := wallclock.Span(slot, duration)
			require.GreaterOrEqual(t, slot, s.WorkStart)
			require.LessOrEqual(t, cand.End, s.WorkEnd)
			if s.LunchStart != nil && *s.LunchEnd > *s.LunchStart {
				require.False(t, cand.Overlaps(wallclock.Interval{Start: *s.LunchStart, End: *s.LunchEnd}), "lunch")
			}
			for _, b := range blocked {
				require.False(t, cand.Overlaps(wallclock.Span(b.Start, b.DurationMin)), "blocked slot")
			}
			for _, a := range booked {
				require.False(t, cand.Overlaps(wallclock.Span(wallclock.ClockOf(a.StartAt), a.DurationMin)), "booking")
			}
			if k > 0 {
				require.Less(t, slots[k-1], slot)
			}
		}
	}
}
