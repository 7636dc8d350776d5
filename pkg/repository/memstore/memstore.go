// Package memstore is an in-memory implementation of the repository
// interfaces. It enforces the same booking rules as the Postgres store
// and backs the package tests of the bot.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

type Store struct {
	mu sync.Mutex

	doctors      map[int64]model.Doctor
	services     map[int64]model.Service
	patients     map[int64]model.Patient // by id
	appointments map[int64]model.Appointment
	blockedDays  []model.BlockedDay
	blockedSlots []model.BlockedSlot
	sessions     map[int64]model.SessionData

	nextPatientID     int64
	nextAppointmentID int64
}

var (
	_ model.Repo        = (*Store)(nil)
	_ model.SessionRepo = (*Store)(nil)
)

func New() *Store {
	return &Store{
		doctors:      map[int64]model.Doctor{},
		services:     map[int64]model.Service{},
		patients:     map[int64]model.Patient{},
		appointments: map[int64]model.Appointment{},
		sessions:     map[int64]model.SessionData{},
	}
}

// Seeding helpers.

func (s *Store) PutDoctor(d model.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
}

func (s *Store) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *Store) BlockDay(d model.BlockedDay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedDays = append(s.blockedDays, d)
}

func (s *Store) BlockSlot(b model.BlockedSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedSlots = append(s.blockedSlots, b)
}

// PutAppointment inserts a and returns its id without any validation.
func (s *Store) PutAppointment(a model.Appointment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAppointmentID++
	a.ID = s.nextAppointmentID
	s.appointments[a.ID] = a
	return a.ID
}

// Appointments returns all appointments ordered by id.
func (s *Store) Appointments() []model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Patients returns all patients ordered by id.
func (s *Store) Patients() []model.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Session returns the raw session record, if any.
func (s *Store) Session(userID int64) (model.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.sessions[userID]
	return d, ok
}

// model.Repo

func (s *Store) GetDoctor(_ context.Context, doctorID int64) (*model.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[doctorID]
	if !ok {
		return nil, errs.New("doctor not found").Arg("doctor_id", doctorID).Wrap(model.ErrNotFound)
	}
	return &d, nil
}

func (s *Store) ListActiveServices(_ context.Context, doctorID int64) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Service
	for _, svc := range s.services {
		if svc.DoctorID == doctorID && svc.IsActive {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetService(_ context.Context, serviceID int64) (*model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return nil, errs.New("service not found").Arg("service_id", serviceID).Wrap(model.ErrNotFound)
	}
	return &svc, nil
}

func (s *Store) GetPatientByExternalID(_ context.Context, externalUserID int64) (*model.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.ExternalUserID == externalUserID {
			return &p, nil
		}
	}
	return nil, errs.New("patient not found").Arg("external_user_id", externalUserID).Wrap(model.ErrNotFound)
}

func (s *Store) UpsertPatient(_ context.Context, p model.Patient) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.patients {
		if existing.ExternalUserID == p.ExternalUserID {
			existing.FirstName = p.FirstName
			existing.LastName = p.LastName
			existing.ChatID = p.ChatID
			existing.PreferredLanguage = p.PreferredLanguage
			if p.PhoneNumber != nil {
				existing.PhoneNumber = p.PhoneNumber
			}
			s.patients[id] = existing
			return id, nil
		}
	}
	s.nextPatientID++
	p.ID = s.nextPatientID
	p.CreatedAt = time.Now()
	s.patients[p.ID] = p
	return p.ID, nil
}

func (s *Store) UpdatePatientPhone(_ context.Context, patientID int64, phone *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[patientID]
	if !ok {
		return errs.New("patient not found").Arg("patient_id", patientID).Wrap(model.ErrNotFound)
	}
	p.PhoneNumber = phone
	s.patients[patientID] = p
	return nil
}

func (s *Store) ListBlockedDays(_ context.Context, doctorID int64, from, to civil.Date) ([]civil.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []civil.Date
	for _, b := range s.blockedDays {
		if b.DoctorID == doctorID && !b.Day.Before(from) && !b.Day.After(to) {
			out = append(out, b.Day)
		}
	}
	return out, nil
}

func (s *Store) ListBlockedSlots(_ context.Context, doctorID int64, day civil.Date) ([]model.BlockedSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BlockedSlot
	for _, b := range s.blockedSlots {
		if b.DoctorID == doctorID && b.Day == day {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) ListActiveAppointmentsOn(_ context.Context, doctorID int64, day civil.Date) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, end := wallclock.DayRange(day)
	var out []model.Appointment
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.Status.Active() && a.StartAt.Before(end) && a.EndAt().After(start) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (s *Store) CountActiveAppointments(_ context.Context, doctorID, patientID int64, after time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActive(doctorID, patientID, after), nil
}

func (s *Store) countActive(doctorID, patientID int64, after time.Time) int {
	n := 0
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.PatientID == patientID && a.Status.Active() && a.StartAt.After(after) {
			n++
		}
	}
	return n
}

func (s *Store) CreateAppointment(_ context.Context, na model.NewAppointment, maxActive int, now time.Time) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := model.Appointment{
		DoctorID:     na.DoctorID,
		PatientID:    na.PatientID,
		ServiceID:    na.ServiceID,
		CustomReason: na.CustomReason,
		StartAt:      na.StartAt,
		DurationMin:  na.DurationMin,
		Status:       model.StatusPending,
		Source:       na.Source,
	}

	for _, a := range s.appointments {
		if a.DoctorID != na.DoctorID || !a.Status.Active() {
			continue
		}
		if a.PatientID == na.PatientID && a.StartAt.Equal(na.StartAt) {
			existing := a
			return &existing, errs.New("appointment already booked").Arg("appointment_id", a.ID).Wrap(model.ErrDuplicateBooking)
		}
	}
	for _, a := range s.appointments {
		if a.DoctorID != na.DoctorID || !a.Status.Active() {
			continue
		}
		if a.StartAt.Before(candidate.EndAt()) && candidate.StartAt.Before(a.EndAt()) {
			return nil, errs.New("interval is occupied").Arg("conflict_id", a.ID).Wrap(model.ErrSlotTaken)
		}
	}
	if maxActive > 0 && s.countActive(na.DoctorID, na.PatientID, now) >= maxActive {
		return nil, errs.New("too many active appointments").Arg("patient_id", na.PatientID).Wrap(model.ErrBookingLimit)
	}

	s.nextAppointmentID++
	candidate.ID = s.nextAppointmentID
	s.appointments[candidate.ID] = candidate
	return &candidate, nil
}

func (s *Store) TransitionAppointment(_ context.Context, id int64, from []model.Status, to model.Status, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return errs.New("appointment not found").Arg("appointment_id", id).Wrap(model.ErrNotFound)
	}
	allowed := false
	for _, st := range from {
		if a.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return errs.New("appointment status guard failed").Arg("appointment_id", id).Arg("status", a.Status).
			Wrap(model.ErrAlreadyProcessed)
	}
	a.Status = to
	a.DecisionReason = reason
	s.appointments[id] = a
	return nil
}

func (s *Store) GetAppointmentDetails(_ context.Context, id int64) (*model.AppointmentDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, errs.New("appointment not found").Arg("appointment_id", id).Wrap(model.ErrNotFound)
	}
	d := &model.AppointmentDetails{
		Appointment: a,
		Patient:     s.patients[a.PatientID],
		Doctor:      s.doctors[a.DoctorID],
	}
	if a.ServiceID != nil {
		if svc, ok := s.services[*a.ServiceID]; ok {
			d.Service = &svc
		}
	}
	return d, nil
}

func (s *Store) SetCalendarEventID(_ context.Context, id int64, eventID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return errs.New("appointment not found").Arg("appointment_id", id).Wrap(model.ErrNotFound)
	}
	a.CalendarEventID = eventID
	s.appointments[id] = a
	return nil
}

// model.SessionRepo

func (s *Store) LoadSession(_ context.Context, userID int64) (*model.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.sessions[userID]
	if !ok {
		return nil, errs.New("session not found").Arg("user_id", userID).Wrap(model.ErrNotFound)
	}
	return &d, nil
}

func (s *Store) InsertSession(_ context.Context, d model.SessionData) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[d.UserID]; ok {
		return false, nil
	}
	s.sessions[d.UserID] = d
	return true, nil
}

func (s *Store) SaveSession(_ context.Context, d model.SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[d.UserID] = d
	return nil
}

func (s *Store) DeleteSession(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *Store) PurgeSessions(_ context.Context, idleSince time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.sessions {
		if d.UpdatedAt.Before(idleSince) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
