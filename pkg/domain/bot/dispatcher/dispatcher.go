// Package dispatcher turns booking events and doctor decisions into status
// transitions plus best-effort notifications and external sync.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/keyboards"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/texts"
	"github.com/napryag/doctor_booking_bot/pkg/integrations/google"
	"github.com/napryag/doctor_booking_bot/pkg/observability/metrics"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

const DefaultTimeout = 8 * time.Second

// Leg names, also used as metric labels.
const (
	LegDoctor   = "doctor_message"
	LegPatient  = "patient_message"
	LegCalendar = "calendar"
	LegSheet    = "sheet"
)

type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, markup any) error
}

type Calendar interface {
	CreateEvent(ctx context.Context, e google.Event) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

type Sheet interface {
	AppendRow(ctx context.Context, values []any) error
}

// Repo is the part of model.Repo the dispatcher needs.
type Repo interface {
	TransitionAppointment(ctx context.Context, id int64, from []model.Status, to model.Status, reason *string) error
	GetAppointmentDetails(ctx context.Context, id int64) (*model.AppointmentDetails, error)
	SetCalendarEventID(ctx context.Context, id int64, eventID *string) error
}

type Option func(*Dispatcher)

// WithCalendar enables the calendar leg.
func WithCalendar(c Calendar) Option { return func(d *Dispatcher) { d.calendar = c } }

// WithSheet enables the sheet leg.
func WithSheet(s Sheet) Option { return func(d *Dispatcher) { d.sheet = s } }

// WithTimeout bounds every leg.
func WithTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(d *Dispatcher) { d.metrics = m } }

type Dispatcher struct {
	repo      Repo
	messenger Messenger
	calendar  Calendar
	sheet     Sheet
	timeout   time.Duration
	metrics   *metrics.BookingMetrics
	logger    zerolog.Logger
}

func New(repo Repo, messenger Messenger, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		messenger: messenger,
		timeout:   DefaultTimeout,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	return d
}

// BookingCreated asks the doctor to confirm or reject a fresh PENDING
// appointment.
func (d *Dispatcher) BookingCreated(ctx context.Context, id int64) error {
	det, err := d.repo.GetAppointmentDetails(ctx, id)
	if err != nil {
		return errs.New("failed to load appointment").Arg("appointment_id", id).Wrap(err)
	}

	d.fanout(ctx, id, leg{LegDoctor, func(ctx context.Context) error {
		if det.Doctor.TelegramChatID == 0 {
			return errs.New("doctor has no telegram chat").Arg("doctor_id", det.DoctorID)
		}
		return d.messenger.Send(ctx, det.Doctor.TelegramChatID, texts.NewBookingForDoctor(*det), keyboards.DoctorDecision(id))
	}})
	return nil
}

// Confirm moves a PENDING appointment to CONFIRMED, then notifies the
// patient, creates the calendar event and logs the decision. It returns
// model.ErrAlreadyProcessed, without side effects, when the appointment was
// already decided.
func (d *Dispatcher) Confirm(ctx context.Context, id int64) error {
	det, err := d.transition(ctx, id, []model.Status{model.StatusPending}, model.StatusConfirmed, nil)
	if err != nil {
		return err
	}

	legs := []leg{
		{LegPatient, func(ctx context.Context) error {
			t := texts.For(det.Patient.PreferredLanguage)
			return d.notifyPatient(ctx, det, t.ConfirmedMsg(det.Doctor.Name(det.Patient.PreferredLanguage), det.StartAt))
		}},
	}
	if d.calendar != nil {
		legs = append(legs, leg{LegCalendar, func(ctx context.Context) error {
			eventID, err := d.calendar.CreateEvent(ctx, eventOf(det))
			if err != nil {
				return err
			}
			return d.repo.SetCalendarEventID(ctx, id, &eventID)
		}})
	}
	legs = append(legs, d.sheetLeg(det)...)

	d.fanout(ctx, id, legs...)
	return nil
}

// Reject moves a PENDING appointment to REJECTED and tells the patient,
// with reason when given.
func (d *Dispatcher) Reject(ctx context.Context, id int64, reason string) error {
	det, err := d.transition(ctx, id, []model.Status{model.StatusPending}, model.StatusRejected, optional(reason))
	if err != nil {
		return err
	}

	legs := []leg{
		{LegPatient, func(ctx context.Context) error {
			return d.notifyPatient(ctx, det, texts.For(det.Patient.PreferredLanguage).RejectedMsg(det.StartAt, reason))
		}},
	}
	legs = append(legs, d.sheetLeg(det)...)

	d.fanout(ctx, id, legs...)
	return nil
}

// CancelByDoctor cancels a PENDING or CONFIRMED appointment on the doctor's
// behalf, removing its calendar event when one was created.
func (d *Dispatcher) CancelByDoctor(ctx context.Context, id int64, reason string) error {
	det, err := d.transition(ctx, id, model.ActiveStatuses, model.StatusCancelledByDoctor, optional(reason))
	if err != nil {
		return err
	}

	legs := []leg{
		{LegPatient, func(ctx context.Context) error {
			return d.notifyPatient(ctx, det, texts.For(det.Patient.PreferredLanguage).CancelledMsg(det.StartAt, reason))
		}},
	}
	if d.calendar != nil && det.CalendarEventID != nil {
		eventID := *det.CalendarEventID
		legs = append(legs, leg{LegCalendar, func(ctx context.Context) error {
			if err := d.calendar.DeleteEvent(ctx, eventID); err != nil {
				return err
			}
			return d.repo.SetCalendarEventID(ctx, id, nil)
		}})
	}
	legs = append(legs, d.sheetLeg(det)...)

	d.fanout(ctx, id, legs...)
	return nil
}

func (d *Dispatcher) transition(ctx context.Context, id int64, from []model.Status, to model.Status, reason *string) (*model.AppointmentDetails, error) {
	if err := d.repo.TransitionAppointment(ctx, id, from, to, reason); err != nil {
		return nil, errs.New("failed to change appointment status").Arg("appointment_id", id).Arg("to", to).Wrap(err)
	}
	d.logger.Info().Int64("appointment_id", id).Str("status", string(to)).Msg("appointment status changed")

	det, err := d.repo.GetAppointmentDetails(ctx, id)
	if err != nil {
		return nil, errs.New("failed to load appointment").Arg("appointment_id", id).Wrap(err)
	}
	return det, nil
}

func (d *Dispatcher) notifyPatient(ctx context.Context, det *model.AppointmentDetails, text string) error {
	chatID := det.Patient.ChatID
	if chatID == 0 {
		// private chats share the user's id
		chatID = det.Patient.ExternalUserID
	}
	return d.messenger.Send(ctx, chatID, text, nil)
}

func (d *Dispatcher) sheetLeg(det *model.AppointmentDetails) []leg {
	if d.sheet == nil {
		return nil
	}
	return []leg{{LegSheet, func(ctx context.Context) error {
		return d.sheet.AppendRow(ctx, rowOf(det))
	}}}
}

type leg struct {
	name string
	run  func(ctx context.Context) error
}

// fanout runs legs concurrently, each under its own timeout. Failures are
// logged and counted, never returned: the status change already happened.
func (d *Dispatcher) fanout(ctx context.Context, id int64, legs ...leg) {
	// legs outlive a cancelled caller, e.g. an admin request that hung up
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, l := range legs {
		g.Go(func() error {
			legCtx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			err := l.run(legCtx)
			d.metrics.ObserveFanout(l.name, err)
			if err != nil {
				d.logger.Warn().Err(err).Int64("appointment_id", id).Str("leg", l.name).Msg("fan-out leg failed")
				return nil
			}
			d.logger.Debug().Int64("appointment_id", id).Str("leg", l.name).Msg("fan-out leg done")
			return nil
		})
	}
	_ = g.Wait()
}

func patientName(p model.Patient) string {
	if p.LastName != nil && *p.LastName != "" {
		return p.FirstName + " " + *p.LastName
	}
	return p.FirstName
}

func eventOf(det *model.AppointmentDetails) google.Event {
	desc := fmt.Sprintf("Запись #%d (%s)", det.ID, det.Source)
	if det.Patient.PhoneNumber != nil {
		desc += "\nТелефон: " + *det.Patient.PhoneNumber
	}
	return google.Event{
		Summary:     fmt.Sprintf("%s: %s", det.Reason(model.LanguageRU), patientName(det.Patient)),
		Description: desc,
		Start:       det.StartAt,
		DurationMin: det.DurationMin,
	}
}

func rowOf(det *model.AppointmentDetails) []any {
	date, at := wallclock.Split(det.StartAt)
	phone, decision := "", ""
	if det.Patient.PhoneNumber != nil {
		phone = *det.Patient.PhoneNumber
	}
	if det.DecisionReason != nil {
		decision = *det.DecisionReason
	}
	return []any{
		det.ID,
		string(det.Status),
		date.String(),
		at.String(),
		det.DurationMin,
		patientName(det.Patient),
		phone,
		det.Reason(model.LanguageRU),
		det.Source,
		decision,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
