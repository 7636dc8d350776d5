package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PGRepo struct {
	db   DB
	pool *pgxpool.Pool
}

var (
	_ model.Repo        = (*PGRepo)(nil)
	_ model.SessionRepo = (*PGRepo)(nil)
)

func NewRepo(ctx context.Context, dsn string) (*PGRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.New("failed to create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.New("failed to ping postgres").Wrap(err)
	}
	return &PGRepo{db: pool, pool: pool}, nil
}

// NewWithDB wraps an existing connection, e.g. a pgxmock pool.
func NewWithDB(db DB) *PGRepo {
	return &PGRepo{db: db}
}

func (r *PGRepo) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func (r *PGRepo) Ping(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Ping(ctx)
}

func (r *PGRepo) GetDoctor(ctx context.Context, doctorID int64) (*model.Doctor, error) {
	const q = `
		SELECT id, name_arm, name_ru, telegram_chat_id, work_days, work_start, work_end,
		       slot_step_min, lunch_start, lunch_end, classifier_enabled
		FROM doctor
		WHERE id = $1;
	`
	var (
		d                    model.Doctor
		days                 []int32
		start, end           pgtype.Time
		lunchStart, lunchEnd pgtype.Time
	)
	err := r.db.QueryRow(ctx, q, doctorID).Scan(
		&d.ID, &d.NameARM, &d.NameRU, &d.TelegramChatID, &days, &start, &end,
		&d.SlotStepMin, &lunchStart, &lunchEnd, &d.ClassifierEnabled,
	)
	if err != nil {
		return nil, notFound(errs.New("failed to get doctor").Arg("doctor_id", doctorID), err)
	}
	for _, wd := range days {
		d.WorkDays = append(d.WorkDays, time.Weekday(wd%7))
	}
	d.WorkStart = clockOf(start)
	d.WorkEnd = clockOf(end)
	if lunchStart.Valid && lunchEnd.Valid {
		ls, le := clockOf(lunchStart), clockOf(lunchEnd)
		d.LunchStart, d.LunchEnd = &ls, &le
	}
	return &d, nil
}

const serviceColumns = `id, doctor_id, name_arm, name_ru, duration_min, is_active, sort_order, price_min, price_max`

func scanService(row pgx.Row) (model.Service, error) {
	var s model.Service
	err := row.Scan(&s.ID, &s.DoctorID, &s.NameARM, &s.NameRU, &s.DurationMin, &s.IsActive, &s.SortOrder,
		&s.PriceMin, &s.PriceMax)
	return s, err
}

func (r *PGRepo) ListActiveServices(ctx context.Context, doctorID int64) ([]model.Service, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM service
		WHERE doctor_id = $1 AND is_active
		ORDER BY sort_order, id;
	`, doctorID)
	if err != nil {
		return nil, errs.New("failed to list services").Arg("doctor_id", doctorID).Wrap(err)
	}
	defer rows.Close()
	var out []model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, errs.New("failed to scan service").Wrap(err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepo) GetService(ctx context.Context, serviceID int64) (*model.Service, error) {
	s, err := scanService(r.db.QueryRow(ctx, `SELECT `+serviceColumns+` FROM service WHERE id = $1;`, serviceID))
	if err != nil {
		return nil, notFound(errs.New("failed to get service").Arg("service_id", serviceID), err)
	}
	return &s, nil
}

func (r *PGRepo) GetPatientByExternalID(ctx context.Context, externalUserID int64) (*model.Patient, error) {
	const q = `
		SELECT id, external_user_id, chat_id, first_name, last_name, phone_number, preferred_language, created_at
		FROM patient
		WHERE external_user_id = $1;
	`
	var (
		p    model.Patient
		lang string
	)
	err := r.db.QueryRow(ctx, q, externalUserID).Scan(
		&p.ID, &p.ExternalUserID, &p.ChatID, &p.FirstName, &p.LastName, &p.PhoneNumber, &lang, &p.CreatedAt,
	)
	if err != nil {
		return nil, notFound(errs.New("failed to get patient").Arg("external_user_id", externalUserID), err)
	}
	p.PreferredLanguage = model.Language(lang)
	return &p, nil
}

// UpsertPatient keys on the Telegram user id. A nil phone keeps the stored one.
func (r *PGRepo) UpsertPatient(ctx context.Context, p model.Patient) (int64, error) {
	const q = `
		INSERT INTO patient (external_user_id, chat_id, first_name, last_name, phone_number, preferred_language)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (external_user_id) DO UPDATE
		   SET chat_id            = EXCLUDED.chat_id,
		       first_name         = EXCLUDED.first_name,
		       last_name          = EXCLUDED.last_name,
		       phone_number       = COALESCE(EXCLUDED.phone_number, patient.phone_number),
		       preferred_language = EXCLUDED.preferred_language,
		       updated_at         = now()
		RETURNING id;
	`
	var id int64
	err := r.db.QueryRow(ctx, q, p.ExternalUserID, p.ChatID, p.FirstName, p.LastName, p.PhoneNumber,
		string(p.PreferredLanguage)).Scan(&id)
	if err != nil {
		return 0, errs.New("failed to upsert patient").Arg("external_user_id", p.ExternalUserID).Wrap(err)
	}
	return id, nil
}

func (r *PGRepo) UpdatePatientPhone(ctx context.Context, patientID int64, phone *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE patient SET phone_number = $2, updated_at = now() WHERE id = $1`, patientID, phone)
	if err != nil {
		return errs.New("failed to update phone").Arg("patient_id", patientID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("patient not found").Arg("patient_id", patientID).Wrap(model.ErrNotFound)
	}
	return nil
}

func (r *PGRepo) ListBlockedDays(ctx context.Context, doctorID int64, from, to civil.Date) ([]civil.Date, error) {
	rows, err := r.db.Query(ctx, `
		SELECT day FROM blocked_day
		WHERE doctor_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day;
	`, doctorID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, errs.New("failed to list blocked days").Arg("doctor_id", doctorID).Wrap(err)
	}
	defer rows.Close()
	var out []civil.Date
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, errs.New("failed to scan blocked day").Wrap(err)
		}
		out = append(out, civil.DateOf(day))
	}
	return out, rows.Err()
}

func (r *PGRepo) ListBlockedSlots(ctx context.Context, doctorID int64, day civil.Date) ([]model.BlockedSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT start_time, duration_min FROM blocked_slot
		WHERE doctor_id = $1 AND day = $2
		ORDER BY start_time;
	`, doctorID, dateArg(day))
	if err != nil {
		return nil, errs.New("failed to list blocked slots").Arg("doctor_id", doctorID).Arg("day", day).Wrap(err)
	}
	defer rows.Close()
	var out []model.BlockedSlot
	for rows.Next() {
		var (
			start pgtype.Time
			b     = model.BlockedSlot{DoctorID: doctorID, Day: day}
		)
		if err := rows.Scan(&start, &b.DurationMin); err != nil {
			return nil, errs.New("failed to scan blocked slot").Wrap(err)
		}
		b.Start = clockOf(start)
		out = append(out, b)
	}
	return out, rows.Err()
}

// notFound maps pgx.ErrNoRows onto model.ErrNotFound.
func notFound(e *errs.CustomError, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return e.Wrap(model.ErrNotFound)
	}
	return e.Wrap(err)
}

func clockOf(t pgtype.Time) wallclock.Clock {
	return wallclock.Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}
