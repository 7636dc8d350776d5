package session

import (
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

// Encode flattens a session into the persisted record.
func Encode(s Session) model.SessionData {
	data := model.SessionData{
		UserID:    s.UserID,
		ChatID:    s.ChatID,
		Step:      string(s.State.Step()),
		UpdatedAt: s.UpdatedAt,
	}
	p := &data.Payload

	switch st := s.State.(type) {
	case AwaitingLanguage:
	case AwaitingName:
		p.Language = ptr(st.Language)
	case AwaitingPhone:
		putIdentity(p, st.Identity)
	case AwaitingService:
		putIdentity(p, st.Identity)
	case AwaitingReason:
		putIdentity(p, st.Identity)
	case AwaitingServiceReview:
		putIdentity(p, st.Identity)
		p.CustomReason = ptr(st.Reason)
	case AwaitingDate:
		putIdentity(p, st.Identity)
		putBooking(p, st.Booking)
	case AwaitingTime:
		putIdentity(p, st.Identity)
		putBooking(p, st.Booking)
		p.SelectedDate = ptr(st.Date.String())
	case AwaitingConfirmation:
		putIdentity(p, st.Identity)
		putBooking(p, st.Booking)
		p.SelectedDate = ptr(st.Date.String())
		p.SelectedTime = ptr(st.Time.String())
	}
	return data
}

// Decode rebuilds the typed state, rejecting records whose fields do not
// match their step.
func Decode(data model.SessionData) (*Session, error) {
	s := &Session{UserID: data.UserID, ChatID: data.ChatID, UpdatedAt: data.UpdatedAt}
	p := data.Payload

	corrupt := func(field string) error {
		return errs.New("session field missing or invalid").
			Arg("user_id", data.UserID).Arg("step", data.Step).Arg("field", field).
			Wrap(model.ErrCorruptSession)
	}

	if !Step(data.Step).Known() {
		return nil, errs.New("unknown session step").Arg("user_id", data.UserID).Arg("step", data.Step).
			Wrap(model.ErrCorruptSession)
	}

	switch Step(data.Step) {
	case StepAwaitingLanguage:
		s.State = AwaitingLanguage{}
		return s, nil
	case StepAwaitingName:
		if p.Language == nil || !p.Language.Valid() {
			return nil, corrupt("language")
		}
		s.State = AwaitingName{Language: *p.Language}
		return s, nil
	}

	id, err := identityOf(p)
	if err != nil {
		return nil, corrupt(err.Error())
	}

	switch Step(data.Step) {
	case StepAwaitingPhone:
		s.State = AwaitingPhone{Identity: id}
	case StepAwaitingService:
		s.State = AwaitingService{Identity: id}
	case StepAwaitingReason:
		s.State = AwaitingReason{Identity: id}
	case StepAwaitingServiceReview:
		if p.CustomReason == nil || *p.CustomReason == "" {
			return nil, corrupt("custom_reason")
		}
		s.State = AwaitingServiceReview{Identity: id, Reason: *p.CustomReason}
	case StepAwaitingDate, StepAwaitingTime, StepAwaitingConfirmation:
		b, field := bookingOf(p)
		if field != "" {
			return nil, corrupt(field)
		}
		if Step(data.Step) == StepAwaitingDate {
			s.State = AwaitingDate{Identity: id, Booking: b}
			return s, nil
		}
		if p.SelectedDate == nil {
			return nil, corrupt("selected_date")
		}
		date, err := wallclock.ParseDate(*p.SelectedDate)
		if err != nil {
			return nil, corrupt("selected_date")
		}
		if Step(data.Step) == StepAwaitingTime {
			s.State = AwaitingTime{Identity: id, Booking: b, Date: date}
			return s, nil
		}
		if p.SelectedTime == nil {
			return nil, corrupt("selected_time")
		}
		at, err := wallclock.ParseClock(*p.SelectedTime)
		if err != nil {
			return nil, corrupt("selected_time")
		}
		s.State = AwaitingConfirmation{Identity: id, Booking: b, Date: date, Time: at}
	}
	return s, nil
}

func putIdentity(p *model.SessionPayload, id Identity) {
	p.Language = ptr(id.Language)
	p.PatientID = ptr(id.PatientID)
}

func putBooking(p *model.SessionPayload, b Booking) {
	if b.ServiceID != 0 {
		p.ServiceID = ptr(b.ServiceID)
	}
	if b.CustomReason != "" {
		p.CustomReason = ptr(b.CustomReason)
	}
	p.DurationMinutes = ptr(b.DurationMinutes)
}

type fieldError string

func (f fieldError) Error() string { return string(f) }

func identityOf(p model.SessionPayload) (Identity, error) {
	if p.Language == nil || !p.Language.Valid() {
		return Identity{}, fieldError("language")
	}
	if p.PatientID == nil || *p.PatientID <= 0 {
		return Identity{}, fieldError("patient_id")
	}
	return Identity{Language: *p.Language, PatientID: *p.PatientID}, nil
}

func bookingOf(p model.SessionPayload) (Booking, string) {
	var b Booking
	if p.DurationMinutes == nil || *p.DurationMinutes <= 0 {
		return b, "duration_minutes"
	}
	b.DurationMinutes = *p.DurationMinutes
	if p.ServiceID != nil {
		b.ServiceID = *p.ServiceID
	}
	if p.CustomReason != nil {
		b.CustomReason = *p.CustomReason
	}
	if b.ServiceID == 0 && b.CustomReason == "" {
		return b, "service_id"
	}
	return b, ""
}

func ptr[T any](v T) *T { return &v }
