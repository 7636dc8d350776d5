package keyboards

import (
	"fmt"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/callback"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/texts"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

const (
	datesPerRow = 3
	timesPerRow = 4
)

func button(label string, d callback.Data) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, d.Encode())
}

func Languages() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button(texts.LanguageButtonARM, callback.Language(model.LanguageARM)),
			button(texts.LanguageButtonRU, callback.Language(model.LanguageRU)),
		),
	)
}

// Phone asks for a contact share; the skip button sends its label as text.
func Phone(lang model.Language) tgbotapi.ReplyKeyboardMarkup {
	t := texts.For(lang)
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(t.ShareContact)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(t.Skip)),
	)
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return kb
}

func RemoveReply() tgbotapi.ReplyKeyboardRemove {
	return tgbotapi.NewRemoveKeyboard(true)
}

func serviceRows(services []model.Service, lang model.Language) [][]tgbotapi.InlineKeyboardButton {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(services)+1)
	for _, s := range services {
		label := s.Name(lang)
		if s.PriceMin != nil {
			label = fmt.Sprintf("%s · %s", label, priceRange(s.PriceMin, s.PriceMax))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(label, callback.Service(s.ID))))
	}
	return rows
}

// Services lists the catalogue followed by "Other".
func Services(services []model.Service, lang model.Language) tgbotapi.InlineKeyboardMarkup {
	rows := serviceRows(services, lang)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(texts.For(lang).Other, callback.ServiceOther())))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Review lists the catalogue with a "keep as Other" escape after the
// classifier could not place the reason.
func Review(services []model.Service, lang model.Language) tgbotapi.InlineKeyboardMarkup {
	rows := serviceRows(services, lang)
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(texts.For(lang).KeepAsOther, callback.ServiceKeep())))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func Dates(dates []civil.Date, lang model.Language) tgbotapi.InlineKeyboardMarkup {
	t := texts.For(lang)
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, d := range dates {
		row = append(row, button(t.HumanDate(d), callback.Date(d)))
		if len(row) == datesPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func Times(slots []wallclock.Clock) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range slots {
		row = append(row, button(c.String(), callback.Time(c)))
		if len(row) == timesPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func Confirm(lang model.Language) tgbotapi.InlineKeyboardMarkup {
	t := texts.For(lang)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button(t.Yes, callback.ConfirmYes()),
			button(t.No, callback.ConfirmNo()),
		),
	)
}

// DoctorDecision carries the appointment id on both buttons.
func DoctorDecision(appointmentID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button(texts.DoctorConfirm, callback.AppointmentConfirm(appointmentID)),
			button(texts.DoctorReject, callback.AppointmentReject(appointmentID)),
		),
	)
}

func priceRange(lo, hi *int) string {
	if hi == nil || *hi == *lo {
		return fmt.Sprintf("%d ֏", *lo)
	}
	return fmt.Sprintf("%d–%d ֏", *lo, *hi)
}
