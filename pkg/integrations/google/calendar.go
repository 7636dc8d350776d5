// Package google adapts Google Calendar and Google Sheets to the narrow
// create/delete/append operations the dispatcher needs.
package google

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

// wall-clock layout without an offset; the zone travels in TimeZone.
const eventTimeLayout = "2006-01-02T15:04:05"

// Event is an appointment as it appears in the doctor's calendar. Start is
// local wall clock.
type Event struct {
	Summary     string
	Description string
	Start       time.Time
	DurationMin int
}

type Calendar struct {
	svc        *calendar.Service
	calendarID string
	timezone   string
}

func NewCalendar(ctx context.Context, calendarID, timezone string, opts ...option.ClientOption) (*Calendar, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.New("failed to create calendar service").Wrap(err)
	}
	return &Calendar{svc: svc, calendarID: calendarID, timezone: timezone}, nil
}

// CreateEvent inserts e and returns the new event id.
func (c *Calendar) CreateEvent(ctx context.Context, e Event) (string, error) {
	end := e.Start.Add(time.Duration(e.DurationMin) * time.Minute)
	ev := &calendar.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Start:       &calendar.EventDateTime{DateTime: e.Start.Format(eventTimeLayout), TimeZone: c.timezone},
		End:         &calendar.EventDateTime{DateTime: end.Format(eventTimeLayout), TimeZone: c.timezone},
	}

	created, err := c.svc.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", errs.New("failed to insert calendar event").Arg("calendar_id", c.calendarID).Wrap(err)
	}
	return created.Id, nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		return errs.New("failed to delete calendar event").Arg("event_id", eventID).Wrap(err)
	}
	return nil
}
