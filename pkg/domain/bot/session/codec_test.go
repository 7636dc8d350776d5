package session

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

func TestEncodeDecodeEveryStep(t *testing.T) {
	id := Identity{Language: model.LanguageRU, PatientID: 7}
	svc := Booking{ServiceID: 3, DurationMinutes: 45}
	custom := Booking{CustomReason: "болит спина", DurationMinutes: 30}
	date := civil.Date{Year: 2026, Month: time.October, Day: 21}

	states := []State{
		AwaitingLanguage{},
		AwaitingName{Language: model.LanguageARM},
		AwaitingPhone{Identity: id},
		AwaitingService{Identity: id},
		AwaitingReason{Identity: id},
		AwaitingServiceReview{Identity: id, Reason: "болит спина"},
		AwaitingDate{Identity: id, Booking: svc},
		AwaitingDate{Identity: id, Booking: custom},
		AwaitingTime{Identity: id, Booking: svc, Date: date},
		AwaitingConfirmation{Identity: id, Booking: custom, Date: date, Time: wallclock.NewClock(10, 30)},
	}

	for _, st := range states {
		t.Run(string(st.Step()), func(t *testing.T) {
			in := Session{UserID: 42, ChatID: 4242, State: st}
			data := Encode(in)
			assert.Equal(t, string(st.Step()), data.Step)

			out, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, in.UserID, out.UserID)
			assert.Equal(t, in.ChatID, out.ChatID)
			assert.Equal(t, st, out.State)
		})
	}
}

func TestEncodeConfirmationPayload(t *testing.T) {
	data := Encode(Session{UserID: 1, State: AwaitingConfirmation{
		Identity: Identity{Language: model.LanguageARM, PatientID: 9},
		Booking:  Booking{ServiceID: 2, DurationMinutes: 60},
		Date:     civil.Date{Year: 2026, Month: time.November, Day: 2},
		Time:     wallclock.NewClock(9, 0),
	}})

	require.NotNil(t, data.Payload.SelectedDate)
	require.NotNil(t, data.Payload.SelectedTime)
	assert.Equal(t, "2026-11-02", *data.Payload.SelectedDate)
	assert.Equal(t, "09:00", *data.Payload.SelectedTime)
	assert.Equal(t, 60, *data.Payload.DurationMinutes)
	assert.Nil(t, data.Payload.CustomReason)
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	lang := model.LanguageRU
	patient := int64(5)
	duration := 30
	badDate := "21.10.2026"

	tests := []struct {
		name string
		data model.SessionData
	}{
		{"unknown step", model.SessionData{Step: "awaiting_payment"}},
		{"name without language", model.SessionData{Step: string(StepAwaitingName)}},
		{"service without patient", model.SessionData{
			Step:    string(StepAwaitingService),
			Payload: model.SessionPayload{Language: &lang},
		}},
		{"date without booking", model.SessionData{
			Step:    string(StepAwaitingDate),
			Payload: model.SessionPayload{Language: &lang, PatientID: &patient, DurationMinutes: &duration},
		}},
		{"time with malformed date", model.SessionData{
			Step: string(StepAwaitingTime),
			Payload: model.SessionPayload{
				Language: &lang, PatientID: &patient, DurationMinutes: &duration,
				ServiceID: &patient, SelectedDate: &badDate,
			},
		}},
		{"review without reason", model.SessionData{
			Step:    string(StepAwaitingServiceReview),
			Payload: model.SessionPayload{Language: &lang, PatientID: &patient},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrCorruptSession)
		})
	}
}

func TestSessionLanguage(t *testing.T) {
	s := Session{State: AwaitingLanguage{}}
	assert.Empty(t, s.Language())

	s.State = AwaitingTime{Identity: Identity{Language: model.LanguageARM, PatientID: 1}}
	assert.Equal(t, model.LanguageARM, s.Language())
}
