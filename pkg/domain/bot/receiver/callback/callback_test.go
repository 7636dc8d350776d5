package callback

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

func TestParseWireForms(t *testing.T) {
	date := civil.Date{Year: 2026, Month: time.October, Day: 22}

	tests := []struct {
		raw  string
		want Data
	}{
		{"lang_RU", Language(model.LanguageRU)},
		{"lang_arm", Language(model.LanguageARM)},
		{"service_12", Service(12)},
		{"service_other", ServiceOther()},
		{"service_keep", ServiceKeep()},
		{"date_2026-10-22", Date(date)},
		{"select_date_2026-10-22", Date(date)},
		{"time_09:30", Time(wallclock.NewClock(9, 30))},
		{"select_time_14:00", Time(wallclock.NewClock(14, 0))},
		{"confirm_yes", ConfirmYes()},
		{"confirm_no", ConfirmNo()},
		{"apt_confirm_981", AppointmentConfirm(981)},
		{"apt_reject_981", AppointmentReject(981)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{
		"",
		"lang_EN",
		"service_",
		"service_-4",
		"service_abc",
		"date_22.10.2026",
		"time_25:00",
		"apt_confirm_x",
		"something_else",
		"service_" + string(make([]byte, MaxLen)),
	} {
		_, err := Parse(raw)
		assert.Error(t, err, raw)
	}
}

func TestEncodeParsesBack(t *testing.T) {
	for _, d := range []Data{
		Language(model.LanguageARM),
		Service(9007199254740991),
		ServiceOther(),
		ServiceKeep(),
		Date(civil.Date{Year: 2026, Month: time.December, Day: 31}),
		Time(wallclock.NewClock(23, 45)),
		ConfirmYes(),
		ConfirmNo(),
		AppointmentConfirm(9007199254740991),
		AppointmentReject(1),
	} {
		raw := d.Encode()
		assert.LessOrEqual(t, len(raw), MaxLen)

		got, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, d, got)
	}
}

func TestDoctorActions(t *testing.T) {
	assert.True(t, ActionAppointmentConfirm.Doctor())
	assert.True(t, ActionAppointmentReject.Doctor())
	assert.False(t, ActionConfirmYes.Doctor())
}
