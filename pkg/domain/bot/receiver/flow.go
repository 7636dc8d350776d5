package receiver

import (
	"context"
	"errors"
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/domain/availability"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/keyboards"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/texts"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/session"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

// prompt re-renders the question of the current step, prefixed by notice.
func (e *Engine) prompt(ctx context.Context, conv *conversation, notice string) error {
	chatID := conv.sess.ChatID
	t := texts.For(conv.lang())

	switch st := conv.sess.State.(type) {
	case session.AwaitingLanguage:
		e.send(ctx, chatID, texts.ChooseLanguage, keyboards.Languages())
	case session.AwaitingName:
		e.send(ctx, chatID, join(notice, t.AskName), nil)
	case session.AwaitingPhone:
		e.send(ctx, chatID, join(notice, t.AskPhone), keyboards.Phone(st.Language))
	case session.AwaitingService:
		return e.enterService(ctx, conv, st.Identity, notice)
	case session.AwaitingReason:
		e.send(ctx, chatID, join(notice, t.AskReason), nil)
	case session.AwaitingServiceReview:
		services, err := e.repo.ListActiveServices(ctx, conv.doctor.ID)
		if err != nil {
			return errs.New("failed to list services").Wrap(err)
		}
		e.send(ctx, chatID, join(notice, t.ServiceReviewMsg(st.Reason)), keyboards.Review(services, st.Language))
	case session.AwaitingDate:
		return e.enterDate(ctx, conv, st.Identity, st.Booking, notice)
	case session.AwaitingTime:
		slots, err := e.availableSlots(ctx, conv.doctor, st.Date, st.Booking.DurationMinutes)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			return e.enterDate(ctx, conv, st.Identity, st.Booking, t.NoSlotsMsg(st.Date))
		}
		e.send(ctx, chatID, join(notice, t.ChooseTimeMsg(st.Date)), keyboards.Times(slots))
	case session.AwaitingConfirmation:
		return e.sendSummary(ctx, conv, st, notice)
	}
	return nil
}

// checkLimit reports whether the patient already holds the maximum number of
// active bookings, telling them so.
func (e *Engine) checkLimit(ctx context.Context, conv *conversation, id session.Identity) (bool, error) {
	n, err := e.repo.CountActiveAppointments(ctx, conv.doctor.ID, id.PatientID, e.wallNow())
	if err != nil {
		return false, errs.New("failed to count active appointments").Arg("patient_id", id.PatientID).Wrap(err)
	}
	if n < e.config.MaxActive {
		return false, nil
	}
	e.logger.Info().Int64("patient_id", id.PatientID).Int("active", n).Msg("active booking limit reached")
	e.send(ctx, conv.sess.ChatID, texts.For(id.Language).LimitReachedMsg(n), nil)
	return true, nil
}

// enterService moves to AwaitingService and shows the catalogue, unless the
// booking limit is reached.
func (e *Engine) enterService(ctx context.Context, conv *conversation, id session.Identity, notice string) error {
	if conv.sess.State.Step() != session.StepAwaitingService {
		if err := e.move(ctx, conv, session.AwaitingService{Identity: id}); err != nil {
			return err
		}
	}

	if notice != "" {
		e.send(ctx, conv.sess.ChatID, notice, nil)
	}
	limited, err := e.checkLimit(ctx, conv, id)
	if err != nil || limited {
		return err
	}

	services, err := e.repo.ListActiveServices(ctx, conv.doctor.ID)
	if err != nil {
		return errs.New("failed to list services").Wrap(err)
	}
	e.send(ctx, conv.sess.ChatID, texts.For(id.Language).ChooseService, keyboards.Services(services, id.Language))
	return nil
}

// onServiceChosen books serviceID; reason keeps the patient's own words when
// they described the visit before picking.
func (e *Engine) onServiceChosen(ctx context.Context, conv *conversation, id session.Identity, serviceID int64, reason string) error {
	limited, err := e.checkLimit(ctx, conv, id)
	if err != nil || limited {
		return err
	}

	svc, err := e.repo.GetService(ctx, serviceID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return e.prompt(ctx, conv, "")
	case err != nil:
		return errs.New("failed to load service").Arg("service_id", serviceID).Wrap(err)
	case !svc.IsActive || svc.DoctorID != conv.doctor.ID:
		return e.prompt(ctx, conv, "")
	}

	duration := svc.DurationMin
	if duration <= 0 {
		duration = e.config.DefaultDurationMin
	}
	return e.enterDate(ctx, conv, id, session.Booking{ServiceID: svc.ID, CustomReason: reason, DurationMinutes: duration}, "")
}

func (e *Engine) onOther(ctx context.Context, conv *conversation, id session.Identity) error {
	limited, err := e.checkLimit(ctx, conv, id)
	if err != nil || limited {
		return err
	}
	if err = e.move(ctx, conv, session.AwaitingReason{Identity: id}); err != nil {
		return err
	}
	e.send(ctx, conv.sess.ChatID, texts.For(id.Language).AskReason, nil)
	return nil
}

// enterDate moves to AwaitingDate and shows the date picker. With nothing to
// pick the patient goes back to the catalogue.
func (e *Engine) enterDate(ctx context.Context, conv *conversation, id session.Identity, b session.Booking, notice string) error {
	t := texts.For(id.Language)

	dates, err := e.availableDates(ctx, conv.doctor)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		return e.enterService(ctx, conv, id, join(notice, t.NoDates))
	}
	if err = e.move(ctx, conv, session.AwaitingDate{Identity: id, Booking: b}); err != nil {
		return err
	}
	e.send(ctx, conv.sess.ChatID, join(notice, t.ChooseDate), keyboards.Dates(dates, id.Language))
	return nil
}

func (e *Engine) onDate(ctx context.Context, conv *conversation, st session.AwaitingDate, date civil.Date) error {
	t := texts.For(st.Language)

	dates, err := e.availableDates(ctx, conv.doctor)
	if err != nil {
		return err
	}
	if !slices.Contains(dates, date) {
		return e.enterDate(ctx, conv, st.Identity, st.Booking, "")
	}

	slots, err := e.availableSlots(ctx, conv.doctor, date, st.Booking.DurationMinutes)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		e.send(ctx, conv.sess.ChatID, t.NoSlotsMsg(date), keyboards.Dates(dates, st.Language))
		return nil
	}

	if err = e.move(ctx, conv, session.AwaitingTime{Identity: st.Identity, Booking: st.Booking, Date: date}); err != nil {
		return err
	}
	e.send(ctx, conv.sess.ChatID, t.ChooseTimeMsg(date), keyboards.Times(slots))
	return nil
}

func (e *Engine) onTime(ctx context.Context, conv *conversation, st session.AwaitingTime, at wallclock.Clock) error {
	t := texts.For(st.Language)

	slots, err := e.availableSlots(ctx, conv.doctor, st.Date, st.Booking.DurationMinutes)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return e.enterDate(ctx, conv, st.Identity, st.Booking, t.NoSlotsMsg(st.Date))
	}
	if !slices.Contains(slots, at) {
		e.send(ctx, conv.sess.ChatID, t.SlotTaken, keyboards.Times(slots))
		return nil
	}

	next := session.AwaitingConfirmation{Identity: st.Identity, Booking: st.Booking, Date: st.Date, Time: at}
	if err = e.move(ctx, conv, next); err != nil {
		return err
	}
	return e.sendSummary(ctx, conv, next, "")
}

func (e *Engine) sendSummary(ctx context.Context, conv *conversation, st session.AwaitingConfirmation, notice string) error {
	t := texts.For(st.Language)
	label, err := e.bookingLabel(ctx, st.Booking, st.Language)
	if err != nil {
		return err
	}
	summary := t.SummaryMsg(label, st.Date, st.Time, st.Booking.DurationMinutes)
	e.send(ctx, conv.sess.ChatID, join(notice, summary), keyboards.Confirm(st.Language))
	return nil
}

// onConfirm commits the appointment. The repository re-checks the interval
// and the limit in the same transaction.
func (e *Engine) onConfirm(ctx context.Context, conv *conversation, st session.AwaitingConfirmation) error {
	t := texts.For(st.Language)
	now := e.wallNow()

	day, err := e.day(ctx, conv.doctor, st.Date)
	if err != nil {
		return err
	}
	for _, a := range day.Booked {
		if a.PatientID == st.PatientID && a.StartAt.Equal(st.StartAt()) {
			return e.duplicate(ctx, conv, a.StartAt)
		}
	}
	if !availability.New(availability.ScheduleOf(*conv.doctor)).Contains(day, st.Booking.DurationMinutes, st.Time) {
		e.metrics.ObserveBooking("slot_taken")
		return e.slotTaken(ctx, conv, st)
	}

	na := model.NewAppointment{
		DoctorID:    conv.doctor.ID,
		PatientID:   st.PatientID,
		StartAt:     st.StartAt(),
		DurationMin: st.Booking.DurationMinutes,
		Source:      model.SourceTelegram,
	}
	if st.Booking.ServiceID != 0 {
		na.ServiceID = &st.Booking.ServiceID
	}
	if st.Booking.CustomReason != "" {
		na.CustomReason = &st.Booking.CustomReason
	}

	appt, err := e.repo.CreateAppointment(ctx, na, e.config.MaxActive, now)
	switch {
	case errors.Is(err, model.ErrDuplicateBooking):
		return e.duplicate(ctx, conv, na.StartAt)
	case errors.Is(err, model.ErrSlotTaken):
		e.metrics.ObserveBooking("slot_taken")
		return e.slotTaken(ctx, conv, st)
	case errors.Is(err, model.ErrBookingLimit):
		e.metrics.ObserveBooking("limit")
		if err = e.move(ctx, conv, session.AwaitingService{Identity: st.Identity}); err != nil {
			return err
		}
		e.send(ctx, conv.sess.ChatID, t.LimitReachedMsg(e.config.MaxActive), nil)
		return nil
	case err != nil:
		e.metrics.ObserveBooking("error")
		return errs.New("failed to create appointment").Arg("user_id", conv.sess.UserID).Wrap(err)
	}

	e.metrics.ObserveBooking("created")
	e.logger.Info().Int64("appointment_id", appt.ID).Int64("patient_id", appt.PatientID).Time("start_at", appt.StartAt).
		Msg("appointment created")

	if err = e.finish(ctx, conv); err != nil {
		e.logger.Warn().Err(err).Int64("user_id", conv.sess.UserID).Msg("failed to clear session after booking")
	}
	e.send(ctx, conv.sess.ChatID, t.BookingPending, nil)
	if err = e.dispatcher.BookingCreated(ctx, appt.ID); err != nil {
		e.logger.Warn().Err(err).Int64("appointment_id", appt.ID).Msg("failed to notify doctor")
	}
	return nil
}

// duplicate settles a redelivered confirmation; the first delivery already
// reported back to the patient and the doctor.
func (e *Engine) duplicate(ctx context.Context, conv *conversation, start time.Time) error {
	e.metrics.ObserveBooking("duplicate")
	e.logger.Info().Int64("user_id", conv.sess.UserID).Time("start_at", start).Msg("duplicate confirmation ignored")
	return e.finish(ctx, conv)
}

// slotTaken sends the patient back to the time picker, or to the date picker
// when the day filled up.
func (e *Engine) slotTaken(ctx context.Context, conv *conversation, st session.AwaitingConfirmation) error {
	t := texts.For(st.Language)

	slots, err := e.availableSlots(ctx, conv.doctor, st.Date, st.Booking.DurationMinutes)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return e.enterDate(ctx, conv, st.Identity, st.Booking, join(t.SlotTaken, t.NoSlotsMsg(st.Date)))
	}
	if err = e.move(ctx, conv, session.AwaitingTime{Identity: st.Identity, Booking: st.Booking, Date: st.Date}); err != nil {
		return err
	}
	e.send(ctx, conv.sess.ChatID, t.SlotTaken, keyboards.Times(slots))
	return nil
}

func (e *Engine) onDecline(ctx context.Context, conv *conversation, st session.AwaitingConfirmation) error {
	return e.enterService(ctx, conv, st.Identity, texts.For(st.Language).BookingDeclined)
}

// bookingLabel is what the summary calls the visit.
func (e *Engine) bookingLabel(ctx context.Context, b session.Booking, lang model.Language) (string, error) {
	if b.Custom() {
		return b.CustomReason, nil
	}
	svc, err := e.repo.GetService(ctx, b.ServiceID)
	if err != nil {
		return "", errs.New("failed to load service").Arg("service_id", b.ServiceID).Wrap(err)
	}
	return svc.Name(lang), nil
}

func (e *Engine) wallNow() time.Time {
	return wallclock.Now(e.now(), e.config.Location)
}

func (e *Engine) availableDates(ctx context.Context, doctor *model.Doctor) ([]civil.Date, error) {
	horizon := e.config.HorizonDays
	if horizon <= 0 {
		horizon = availability.DefaultHorizonDays
	}
	today := wallclock.Today(e.now(), e.config.Location)

	blocked, err := e.repo.ListBlockedDays(ctx, doctor.ID, today, today.AddDays(horizon))
	if err != nil {
		return nil, errs.New("failed to list blocked days").Wrap(err)
	}
	return availability.New(availability.ScheduleOf(*doctor)).Dates(today, blocked, horizon, e.config.MaxDates), nil
}

func (e *Engine) availableSlots(ctx context.Context, doctor *model.Doctor, date civil.Date, duration int) ([]wallclock.Clock, error) {
	day, err := e.day(ctx, doctor, date)
	if err != nil {
		return nil, err
	}
	return availability.New(availability.ScheduleOf(*doctor)).Slots(day, duration), nil
}

// day collects what occupies date. Past dates have no room left.
func (e *Engine) day(ctx context.Context, doctor *model.Doctor, date civil.Date) (availability.Day, error) {
	today, now := wallclock.Split(e.wallNow())
	day := availability.Day{Date: date}
	if date.Before(today) {
		day.NotBefore = ptrClock(wallclock.MinutesPerDay)
		return day, nil
	}

	blocked, err := e.repo.ListBlockedSlots(ctx, doctor.ID, date)
	if err != nil {
		return day, errs.New("failed to list blocked slots").Arg("date", date).Wrap(err)
	}
	booked, err := e.repo.ListActiveAppointmentsOn(ctx, doctor.ID, date)
	if err != nil {
		return day, errs.New("failed to list appointments").Arg("date", date).Wrap(err)
	}

	day.BlockedSlots, day.Booked = blocked, booked
	if date == today {
		day.NotBefore = &now
	}
	return day, nil
}

func ptrClock(c wallclock.Clock) *wallclock.Clock { return &c }

func join(notice, text string) string {
	if notice == "" {
		return text
	}
	return notice + "\n\n" + text
}
