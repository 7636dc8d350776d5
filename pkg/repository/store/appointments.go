package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

const appointmentColumns = `id, doctor_id, patient_id, service_id, custom_reason, start_at, duration_min, status, source,
	calendar_event_id, decision_reason`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.ServiceID, &a.CustomReason, &a.StartAt, &a.DurationMin,
		&status, &a.Source, &a.CalendarEventID, &a.DecisionReason)
	a.Status = model.Status(status)
	return a, err
}

func statusArgs(ss []model.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (r *PGRepo) ListActiveAppointmentsOn(ctx context.Context, doctorID int64, day civil.Date) ([]model.Appointment, error) {
	from, to := wallclock.DayRange(day)
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointment
		WHERE doctor_id = $1 AND status = ANY($2) AND start_at < $3 AND end_at > $4
		ORDER BY start_at;
	`, doctorID, statusArgs(model.ActiveStatuses), to, from)
	if err != nil {
		return nil, errs.New("failed to list appointments").Arg("doctor_id", doctorID).Arg("day", day).Wrap(err)
	}
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, errs.New("failed to scan appointment").Wrap(err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountActiveAppointments(ctx context.Context, doctorID, patientID int64, after time.Time) (int, error) {
	n, err := countActive(ctx, r.db, doctorID, patientID, after)
	if err != nil {
		return 0, errs.New("failed to count appointments").Arg("patient_id", patientID).Wrap(err)
	}
	return n, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countActive(ctx context.Context, q queryRower, doctorID, patientID int64, after time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM appointment
		WHERE doctor_id = $1 AND patient_id = $2 AND status = ANY($3) AND start_at > $4;
	`, doctorID, patientID, statusArgs(model.ActiveStatuses), after).Scan(&n)
	return n, err
}

// CreateAppointment serialises bookings per doctor with a transaction-scoped
// advisory lock, then re-checks replay, overlap and the active limit before
// inserting. The exclusion constraint backs the overlap check.
func (r *PGRepo) CreateAppointment(ctx context.Context, na model.NewAppointment, maxActive int, now time.Time) (*model.Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, errs.New("failed to begin transaction").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, na.DoctorID); err != nil {
		return nil, errs.New("failed to lock doctor calendar").Arg("doctor_id", na.DoctorID).Wrap(err)
	}

	active := statusArgs(model.ActiveStatuses)

	existing, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointment
		WHERE doctor_id = $1 AND patient_id = $2 AND start_at = $3 AND status = ANY($4);
	`, na.DoctorID, na.PatientID, na.StartAt, active))
	switch {
	case err == nil:
		return &existing, errs.New("appointment already booked").Arg("appointment_id", existing.ID).
			Wrap(model.ErrDuplicateBooking)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, errs.New("failed to check duplicate").Wrap(err)
	}

	end := na.StartAt.Add(time.Duration(na.DurationMin) * time.Minute)
	var conflictID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM appointment
		WHERE doctor_id = $1 AND status = ANY($2) AND start_at < $3 AND end_at > $4
		LIMIT 1;
	`, na.DoctorID, active, end, na.StartAt).Scan(&conflictID)
	switch {
	case err == nil:
		return nil, errs.New("interval is occupied").Arg("conflict_id", conflictID).Wrap(model.ErrSlotTaken)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, errs.New("failed to check overlap").Wrap(err)
	}

	if maxActive > 0 {
		n, err := countActive(ctx, tx, na.DoctorID, na.PatientID, now)
		if err != nil {
			return nil, errs.New("failed to count appointments").Arg("patient_id", na.PatientID).Wrap(err)
		}
		if n >= maxActive {
			return nil, errs.New("too many active appointments").Arg("patient_id", na.PatientID).Arg("active", n).
				Wrap(model.ErrBookingLimit)
		}
	}

	a := model.Appointment{
		DoctorID:     na.DoctorID,
		PatientID:    na.PatientID,
		ServiceID:    na.ServiceID,
		CustomReason: na.CustomReason,
		StartAt:      na.StartAt,
		DurationMin:  na.DurationMin,
		Status:       model.StatusPending,
		Source:       na.Source,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO appointment (doctor_id, patient_id, service_id, custom_reason, start_at, duration_min, status, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id;
	`, a.DoctorID, a.PatientID, a.ServiceID, a.CustomReason, a.StartAt, a.DurationMin, string(a.Status), a.Source).Scan(&a.ID)
	if err != nil {
		var pgerr *pgconn.PgError
		if errors.As(err, &pgerr) && (pgerr.Code == "23P01" || pgerr.Code == "23505") {
			return nil, errs.New("interval is occupied").Arg("constraint", pgerr.ConstraintName).Wrap(model.ErrSlotTaken)
		}
		return nil, errs.New("failed to insert appointment").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errs.New("failed to commit appointment").Wrap(err)
	}
	return &a, nil
}

func (r *PGRepo) TransitionAppointment(ctx context.Context, id int64, from []model.Status, to model.Status, reason *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment
		   SET status = $2,
		       decision_reason = COALESCE($3, decision_reason),
		       updated_at = now()
		WHERE id = $1 AND status = ANY($4);
	`, id, string(to), reason, statusArgs(from))
	if err != nil {
		return errs.New("failed to update appointment status").Arg("appointment_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM appointment WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return notFound(errs.New("failed to read appointment status").Arg("appointment_id", id), err)
	}
	return errs.New("appointment status guard failed").Arg("appointment_id", id).Arg("status", current).
		Wrap(model.ErrAlreadyProcessed)
}

func (r *PGRepo) GetAppointmentDetails(ctx context.Context, id int64) (*model.AppointmentDetails, error) {
	const q = `
		SELECT a.id, a.doctor_id, a.patient_id, a.service_id, a.custom_reason, a.start_at, a.duration_min, a.status,
		       a.source, a.calendar_event_id, a.decision_reason,
		       p.external_user_id, p.chat_id, p.first_name, p.last_name, p.phone_number, p.preferred_language
		FROM appointment a
		JOIN patient p ON p.id = a.patient_id
		WHERE a.id = $1;
	`
	var (
		d      model.AppointmentDetails
		status string
		lang   string
	)
	err := r.db.QueryRow(ctx, q, id).Scan(
		&d.ID, &d.DoctorID, &d.PatientID, &d.ServiceID, &d.CustomReason, &d.StartAt, &d.DurationMin, &status,
		&d.Source, &d.CalendarEventID, &d.DecisionReason,
		&d.Patient.ExternalUserID, &d.Patient.ChatID, &d.Patient.FirstName, &d.Patient.LastName,
		&d.Patient.PhoneNumber, &lang,
	)
	if err != nil {
		return nil, notFound(errs.New("failed to get appointment").Arg("appointment_id", id), err)
	}
	d.Status = model.Status(status)
	d.Patient.ID = d.PatientID
	d.Patient.PreferredLanguage = model.Language(lang)

	doctor, err := r.GetDoctor(ctx, d.DoctorID)
	if err != nil {
		return nil, err
	}
	d.Doctor = *doctor

	if d.ServiceID != nil {
		svc, err := r.GetService(ctx, *d.ServiceID)
		if err != nil {
			return nil, err
		}
		d.Service = svc
	}
	return &d, nil
}

func (r *PGRepo) SetCalendarEventID(ctx context.Context, id int64, eventID *string) error {
	_, err := r.db.Exec(ctx, `UPDATE appointment SET calendar_event_id = $2, updated_at = now() WHERE id = $1`, id, eventID)
	if err != nil {
		return errs.New("failed to store calendar event").Arg("appointment_id", id).Wrap(err)
	}
	return nil
}
