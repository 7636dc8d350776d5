package model

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrSlotTaken        = errors.New("slot already taken")
	ErrBookingLimit     = errors.New("active booking limit reached")
	ErrDuplicateBooking = errors.New("booking already exists")
	ErrAlreadyProcessed = errors.New("appointment already processed")
	ErrCorruptSession   = errors.New("corrupt session")
)

type Language string

const (
	LanguageARM Language = "ARM"
	LanguageRU  Language = "RU"
)

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	return l == LanguageARM || l == LanguageRU
}

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusConfirmed         Status = "CONFIRMED"
	StatusRejected          Status = "REJECTED"
	StatusCancelledByDoctor Status = "CANCELLED_BY_DOCTOR"
)

// ActiveStatuses hold a slot on the doctor's calendar.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// Active reports whether s occupies the calendar.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

const SourceTelegram = "Telegram"

// Doctor is the practice owner together with the working schedule.
type Doctor struct {
	ID                int64
	NameARM           string
	NameRU            string
	TelegramChatID    int64
	WorkDays          []time.Weekday
	WorkStart         wallclock.Clock
	WorkEnd           wallclock.Clock
	SlotStepMin       int
	LunchStart        *wallclock.Clock
	LunchEnd          *wallclock.Clock
	ClassifierEnabled bool
}

// Name returns the doctor's display name in lang.
func (d Doctor) Name(lang Language) string {
	if lang == LanguageARM && d.NameARM != "" {
		return d.NameARM
	}
	return d.NameRU
}

type Service struct {
	ID          int64
	DoctorID    int64
	NameARM     string
	NameRU      string
	DurationMin int
	IsActive    bool
	SortOrder   int
	PriceMin    *int
	PriceMax    *int
}

// Name returns the service name in lang.
func (s Service) Name(lang Language) string {
	if lang == LanguageARM && s.NameARM != "" {
		return s.NameARM
	}
	return s.NameRU
}

type Patient struct {
	ID                int64
	ExternalUserID    int64
	ChatID            int64
	FirstName         string
	LastName          *string
	PhoneNumber       *string
	PreferredLanguage Language
	CreatedAt         time.Time
}

type Appointment struct {
	ID              int64
	DoctorID        int64
	PatientID       int64
	ServiceID       *int64
	CustomReason    *string
	StartAt         time.Time // local wall clock, see wallclock
	DurationMin     int
	Status          Status
	Source          string
	CalendarEventID *string
	DecisionReason  *string
}

// EndAt is the exclusive end of the appointment.
func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMin) * time.Minute)
}

// AppointmentDetails is an appointment joined with everything needed to
// notify about it.
type AppointmentDetails struct {
	Appointment
	Patient Patient
	Service *Service
	Doctor  Doctor
}

// Reason returns what the appointment is for in lang: the service name or
// the patient's own words.
func (d AppointmentDetails) Reason(lang Language) string {
	if d.Service != nil {
		return d.Service.Name(lang)
	}
	if d.CustomReason != nil {
		return *d.CustomReason
	}
	return ""
}

type BlockedDay struct {
	DoctorID int64
	Day      civil.Date
}

type BlockedSlot struct {
	DoctorID    int64
	Day         civil.Date
	Start       wallclock.Clock
	DurationMin int
}

// SessionData is the flat persisted conversation record. Which fields are set
// depends on Step.
type SessionData struct {
	UserID    int64
	ChatID    int64
	Step      string
	Payload   SessionPayload
	UpdatedAt time.Time
}

type SessionPayload struct {
	Language        *Language `json:"language,omitempty"`
	PatientID       *int64    `json:"patient_id,omitempty"`
	ServiceID       *int64    `json:"service_id,omitempty"`
	CustomReason    *string   `json:"custom_reason,omitempty"`
	SelectedDate    *string   `json:"selected_date,omitempty"`
	SelectedTime    *string   `json:"selected_time,omitempty"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
}

// NewAppointment is what the booking flow asks the repository to commit.
type NewAppointment struct {
	DoctorID     int64
	PatientID    int64
	ServiceID    *int64
	CustomReason *string
	StartAt      time.Time
	DurationMin  int
	Source       string
}

// Repo is the data-access boundary consumed by the bot.
type Repo interface {
	// Doctor and catalogue (owned by admin CRUD, read-only here)
	GetDoctor(ctx context.Context, doctorID int64) (*Doctor, error)
	ListActiveServices(ctx context.Context, doctorID int64) ([]Service, error)
	GetService(ctx context.Context, serviceID int64) (*Service, error)

	// Patients
	GetPatientByExternalID(ctx context.Context, externalUserID int64) (*Patient, error)
	UpsertPatient(ctx context.Context, p Patient) (int64, error)
	UpdatePatientPhone(ctx context.Context, patientID int64, phone *string) error

	// Availability inputs
	ListBlockedDays(ctx context.Context, doctorID int64, from, to civil.Date) ([]civil.Date, error)
	ListBlockedSlots(ctx context.Context, doctorID int64, day civil.Date) ([]BlockedSlot, error)
	ListActiveAppointmentsOn(ctx context.Context, doctorID int64, day civil.Date) ([]Appointment, error)

	// Appointments
	CountActiveAppointments(ctx context.Context, doctorID, patientID int64, after time.Time) (int, error)
	// CreateAppointment re-validates the interval and the active-booking limit
	// atomically. It returns ErrDuplicateBooking with the existing row when the
	// same patient already holds the same start.
	CreateAppointment(ctx context.Context, a NewAppointment, maxActive int, now time.Time) (*Appointment, error)
	// TransitionAppointment moves an appointment to `to` only if its current
	// status is one of `from`; otherwise ErrAlreadyProcessed.
	TransitionAppointment(ctx context.Context, id int64, from []Status, to Status, reason *string) error
	GetAppointmentDetails(ctx context.Context, id int64) (*AppointmentDetails, error)
	SetCalendarEventID(ctx context.Context, id int64, eventID *string) error
}

// SessionRepo persists raw conversation records.
type SessionRepo interface {
	LoadSession(ctx context.Context, userID int64) (*SessionData, error)
	// InsertSession stores s unless a row already exists; reports whether it did.
	InsertSession(ctx context.Context, s SessionData) (bool, error)
	SaveSession(ctx context.Context, s SessionData) error
	DeleteSession(ctx context.Context, userID int64) error
	PurgeSessions(ctx context.Context, idleSince time.Time) (int64, error)
}
