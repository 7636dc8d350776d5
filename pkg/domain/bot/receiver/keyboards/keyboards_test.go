package keyboards

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

func TestServicesEndsWithOther(t *testing.T) {
	price := 15000
	kb := Services([]model.Service{
		{ID: 1, NameRU: "Консультация", NameARM: "Խորհրդատվություն", PriceMin: &price},
		{ID: 2, NameRU: "УЗИ"},
	}, model.LanguageARM)

	require.Len(t, kb.InlineKeyboard, 3)
	assert.Equal(t, "Խորհրդատվություն · 15000 ֏", kb.InlineKeyboard[0][0].Text)
	assert.Equal(t, "service_1", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "УЗИ", kb.InlineKeyboard[1][0].Text, "falls back to Russian name")
	assert.Equal(t, "service_other", *kb.InlineKeyboard[2][0].CallbackData)
}

func TestReviewEndsWithKeep(t *testing.T) {
	kb := Review([]model.Service{{ID: 4, NameRU: "Осмотр"}}, model.LanguageRU)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "service_keep", *kb.InlineKeyboard[1][0].CallbackData)
}

func TestDatesAndTimesRows(t *testing.T) {
	start := civil.Date{Year: 2026, Month: time.October, Day: 20}
	var dates []civil.Date
	for i := 0; i < 7; i++ {
		dates = append(dates, start.AddDays(i))
	}
	kb := Dates(dates, model.LanguageRU)
	require.Len(t, kb.InlineKeyboard, 3)
	assert.Len(t, kb.InlineKeyboard[2], 1)
	assert.Equal(t, "date_2026-10-20", *kb.InlineKeyboard[0][0].CallbackData)

	slots := []wallclock.Clock{wallclock.NewClock(9, 0), wallclock.NewClock(9, 30), wallclock.NewClock(10, 0),
		wallclock.NewClock(10, 30), wallclock.NewClock(11, 0)}
	tk := Times(slots)
	require.Len(t, tk.InlineKeyboard, 2)
	assert.Equal(t, "09:00", tk.InlineKeyboard[0][0].Text)
	assert.Equal(t, "time_11:00", *tk.InlineKeyboard[1][0].CallbackData)
}

func TestDoctorDecision(t *testing.T) {
	kb := DoctorDecision(981)
	require.Len(t, kb.InlineKeyboard, 1)
	assert.Equal(t, "apt_confirm_981", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "apt_reject_981", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestPhoneKeyboard(t *testing.T) {
	kb := Phone(model.LanguageRU)
	require.Len(t, kb.Keyboard, 2)
	assert.True(t, kb.Keyboard[0][0].RequestContact)
	assert.Equal(t, "Пропустить", kb.Keyboard[1][0].Text)
	assert.True(t, kb.OneTimeKeyboard)
}
