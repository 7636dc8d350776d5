package session

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

type Step string

const (
	StepAwaitingLanguage      Step = "awaiting_language"
	StepAwaitingName          Step = "awaiting_name"
	StepAwaitingPhone         Step = "awaiting_phone"
	StepAwaitingService       Step = "awaiting_service"
	StepAwaitingReason        Step = "awaiting_reason"
	StepAwaitingServiceReview Step = "awaiting_service_review"
	StepAwaitingDate          Step = "awaiting_date"
	StepAwaitingTime          Step = "awaiting_time"
	StepAwaitingConfirmation  Step = "awaiting_confirmation"
)

// Known reports whether s is a step this version understands.
func (s Step) Known() bool {
	switch s {
	case StepAwaitingLanguage, StepAwaitingName, StepAwaitingPhone, StepAwaitingService,
		StepAwaitingReason, StepAwaitingServiceReview, StepAwaitingDate, StepAwaitingTime,
		StepAwaitingConfirmation:
		return true
	}
	return false
}

// State is one step of the booking dialogue. Each implementation carries
// exactly the data valid at that step.
type State interface {
	Step() Step
	isState()
}

// Identity is known once the user has picked a language and introduced
// themselves.
type Identity struct {
	Language  model.Language
	PatientID int64
}

// Booking is what the patient is booking for. ServiceID is zero for a
// custom reason.
type Booking struct {
	ServiceID       int64
	CustomReason    string
	DurationMinutes int
}

func (b Booking) Custom() bool { return b.ServiceID == 0 }

type AwaitingLanguage struct{}

type AwaitingName struct {
	Language model.Language
}

type AwaitingPhone struct {
	Identity
}

type AwaitingService struct {
	Identity
}

// AwaitingReason waits for the free-text reason after "Other".
type AwaitingReason struct {
	Identity
}

// AwaitingServiceReview shows the catalogue again after the classifier could
// not map Reason onto a service.
type AwaitingServiceReview struct {
	Identity
	Reason string
}

type AwaitingDate struct {
	Identity
	Booking Booking
}

type AwaitingTime struct {
	Identity
	Booking Booking
	Date    civil.Date
}

type AwaitingConfirmation struct {
	Identity
	Booking Booking
	Date    civil.Date
	Time    wallclock.Clock
}

func (AwaitingLanguage) Step() Step      { return StepAwaitingLanguage }
func (AwaitingName) Step() Step          { return StepAwaitingName }
func (AwaitingPhone) Step() Step         { return StepAwaitingPhone }
func (AwaitingService) Step() Step       { return StepAwaitingService }
func (AwaitingReason) Step() Step        { return StepAwaitingReason }
func (AwaitingServiceReview) Step() Step { return StepAwaitingServiceReview }
func (AwaitingDate) Step() Step          { return StepAwaitingDate }
func (AwaitingTime) Step() Step          { return StepAwaitingTime }
func (AwaitingConfirmation) Step() Step  { return StepAwaitingConfirmation }

func (AwaitingLanguage) isState()      {}
func (AwaitingName) isState()          {}
func (AwaitingPhone) isState()         {}
func (AwaitingService) isState()       {}
func (AwaitingReason) isState()        {}
func (AwaitingServiceReview) isState() {}
func (AwaitingDate) isState()          {}
func (AwaitingTime) isState()          {}
func (AwaitingConfirmation) isState()  {}

// StartAt is the wall-clock start the patient is about to confirm.
func (s AwaitingConfirmation) StartAt() time.Time {
	return wallclock.Combine(s.Date, s.Time)
}

// Session is the conversation of one Telegram user.
type Session struct {
	UserID    int64
	ChatID    int64
	State     State
	UpdatedAt time.Time

	// Fresh is set when Get created the session, so its prompt has not been
	// shown yet. Never persisted.
	Fresh bool
}

// Language returns the session language, empty before it has been chosen.
func (s *Session) Language() model.Language {
	switch st := s.State.(type) {
	case AwaitingName:
		return st.Language
	case AwaitingPhone:
		return st.Language
	case AwaitingService:
		return st.Language
	case AwaitingReason:
		return st.Language
	case AwaitingServiceReview:
		return st.Language
	case AwaitingDate:
		return st.Language
	case AwaitingTime:
		return st.Language
	case AwaitingConfirmation:
		return st.Language
	}
	return ""
}
