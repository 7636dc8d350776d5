// Package texts holds the bot's prompts in Armenian and Russian.
package texts

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

// ChooseLanguage is shown before a language is known, so it is bilingual.
const ChooseLanguage = "Ընտրեք լեզուն / Выберите язык"

const (
	LanguageButtonARM = "🇦🇲 Հայերեն"
	LanguageButtonRU  = "🇷🇺 Русский"
)

type Texts struct {
	AskName         string
	NameInvalid     string
	AskPhone        string
	PhoneInvalid    string
	ShareContact    string
	Skip            string
	PhoneSaved      string
	ChooseService   string
	Other           string
	LimitReached    string // %d active bookings
	AskReason       string
	ReasonInvalid   string
	ServiceReview   string // %s reason
	KeepAsOther     string
	ServiceDetected string // %s service, %d minutes
	ChooseDate      string
	NoDates         string
	NoSlots         string // %s date
	ChooseTime      string // %s date
	Summary         string // %s reason, %s date, %s time, %d minutes
	Yes             string
	No              string
	BookingPending  string
	BookingDeclined string
	SlotTaken       string
	UseButtons      string
	SomethingWrong  string
	Confirmed       string // %s doctor, %s date, %s time
	Rejected        string // %s date, %s time
	RejectedReason  string // %s reason
	Cancelled       string // %s date, %s time
	Minutes         string
	weekdays        [7]string
}

var arm = Texts{
	AskName:         "Խնդրում ենք գրել Ձեր անունը և ազգանունը։",
	NameInvalid:     "Անունը պետք է պարունակի առնվազն 2 տառ։ Փորձեք կրկին։",
	AskPhone:        "Կիսվեք Ձեր հեռախոսահամարով կամ գրեք այն (օրինակ՝ +37491234567)։",
	PhoneInvalid:    "Չհաջողվեց ճանաչել համարը։ Գրեք այն +37491234567 ձևաչափով կամ սեղմեք «Բաց թողնել»։",
	ShareContact:    "📱 Կիսվել համարով",
	Skip:            "Բաց թողնել",
	PhoneSaved:      "Շնորհակալություն։",
	ChooseService:   "Ընտրեք ծառայությունը կամ գրեք, թե ինչն է Ձեզ անհանգստացնում։",
	Other:           "Այլ",
	LimitReached:    "Դուք արդեն ունեք %d ակտիվ գրանցում։ Նոր գրանցում հնարավոր կլինի դրանցից մեկի ավարտից հետո։",
	AskReason:       "Կարճ նկարագրեք այցի պատճառը։",
	ReasonInvalid:   "Խնդրում ենք նկարագրել պատճառը տեքստով։",
	ServiceReview:   "Չհաջողվեց որոշել ծառայությունը «%s» նկարագրությամբ։ Ընտրեք ցանկից կամ թողեք որպես «Այլ»։",
	KeepAsOther:     "Թողնել որպես «Այլ»",
	ServiceDetected: "Ծառայություն՝ %s (%d րոպե)։",
	ChooseDate:      "Ընտրեք ամսաթիվը։",
	NoDates:         "Առաջիկա օրերին ազատ ամսաթվեր չկան։ Խնդրում ենք փորձել ավելի ուշ։",
	NoSlots:         "%s ազատ ժամեր չկան։ Ընտրեք այլ ամսաթիվ։",
	ChooseTime:      "%s․ ընտրեք ժամը։",
	Summary:         "Ստուգեք գրանցումը՝\nՊատճառ՝ %s\nԱմսաթիվ՝ %s\nԺամ՝ %s\nՏևողություն՝ %d րոպե\n\nՀաստատե՞լ։",
	Yes:             "✅ Այո",
	No:              "❌ Ոչ",
	BookingPending:  "Ձեր հայտն ընդունված է և սպասում է բժշկի հաստատմանը։ Մենք կտեղեկացնենք Ձեզ։",
	BookingDeclined: "Գրանցումը չեղարկված է։ Ընտրեք ծառայությունը նորից։",
	SlotTaken:       "Ցավոք, այս ժամն արդեն զբաղված է։ Ընտրեք այլ ժամ։",
	UseButtons:      "Խնդրում ենք օգտվել կոճակներից։",
	SomethingWrong:  "Ինչ-որ բան սխալ գնաց։ Փորձեք կրկին կամ ուղարկեք /start։",
	Confirmed:       "✅ Ձեր գրանցումը հաստատված է։\nԲժիշկ՝ %s\nԱմսաթիվ՝ %s\nԺամ՝ %s",
	Rejected:        "❌ Ցավոք, %s %s գրանցումը մերժվել է։",
	RejectedReason:  "Պատճառ՝ %s",
	Cancelled:       "⚠️ %s %s Ձեր գրանցումը չեղարկվել է բժշկի կողմից։",
	Minutes:         "րոպե",
	weekdays:        [7]string{"Կիր", "Երկ", "Երք", "Չրք", "Հնգ", "Ուրբ", "Շբթ"},
}

var ru = Texts{
	AskName:         "Пожалуйста, напишите ваше имя и фамилию.",
	NameInvalid:     "Имя должно содержать минимум 2 буквы. Попробуйте ещё раз.",
	AskPhone:        "Поделитесь номером телефона или напишите его (например, +37491234567).",
	PhoneInvalid:    "Не удалось распознать номер. Напишите его в формате +37491234567 или нажмите «Пропустить».",
	ShareContact:    "📱 Поделиться номером",
	Skip:            "Пропустить",
	PhoneSaved:      "Спасибо!",
	ChooseService:   "Выберите услугу или напишите, что вас беспокоит.",
	Other:           "Другое",
	LimitReached:    "У вас уже %d активных записи. Новая запись станет доступна после завершения одной из них.",
	AskReason:       "Кратко опишите причину визита.",
	ReasonInvalid:   "Пожалуйста, опишите причину текстом.",
	ServiceReview:   "Не удалось определить услугу по описанию «%s». Выберите из списка или оставьте как «Другое».",
	KeepAsOther:     "Оставить как «Другое»",
	ServiceDetected: "Услуга: %s (%d мин).",
	ChooseDate:      "Выберите дату.",
	NoDates:         "В ближайшие дни свободных дат нет. Пожалуйста, попробуйте позже.",
	NoSlots:         "На %s свободного времени нет. Выберите другую дату.",
	ChooseTime:      "%s: выберите время.",
	Summary:         "Проверьте запись:\nПричина: %s\nДата: %s\nВремя: %s\nДлительность: %d мин\n\nПодтвердить?",
	Yes:             "✅ Да",
	No:              "❌ Нет",
	BookingPending:  "Ваша заявка принята и ожидает подтверждения врача. Мы сообщим вам.",
	BookingDeclined: "Запись отменена. Выберите услугу заново.",
	SlotTaken:       "К сожалению, это время уже занято. Выберите другое.",
	UseButtons:      "Пожалуйста, используйте кнопки.",
	SomethingWrong:  "Что-то пошло не так. Попробуйте ещё раз или отправьте /start.",
	Confirmed:       "✅ Ваша запись подтверждена.\nВрач: %s\nДата: %s\nВремя: %s",
	Rejected:        "❌ К сожалению, запись на %s %s отклонена.",
	RejectedReason:  "Причина: %s",
	Cancelled:       "⚠️ Ваша запись на %s %s отменена врачом.",
	Minutes:         "мин",
	weekdays:        [7]string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"},
}

// For returns the catalogue for lang; Russian when lang is unknown.
func For(lang model.Language) *Texts {
	if lang == model.LanguageARM {
		return &arm
	}
	return &ru
}

// HumanDate renders d as "22.10 (Чт)".
func (t *Texts) HumanDate(d civil.Date) string {
	return fmt.Sprintf("%02d.%02d (%s)", d.Day, int(d.Month), t.weekdays[wallclock.Weekday(d)])
}

// FullDate renders d as "22.10.2026 (Чт)".
func (t *Texts) FullDate(d civil.Date) string {
	return fmt.Sprintf("%02d.%02d.%d (%s)", d.Day, int(d.Month), d.Year, t.weekdays[wallclock.Weekday(d)])
}

func (t *Texts) LimitReachedMsg(active int) string { return fmt.Sprintf(t.LimitReached, active) }

func (t *Texts) ServiceReviewMsg(reason string) string {
	return fmt.Sprintf(t.ServiceReview, reason)
}

func (t *Texts) ServiceDetectedMsg(service string, minutes int) string {
	return fmt.Sprintf(t.ServiceDetected, service, minutes)
}

func (t *Texts) NoSlotsMsg(d civil.Date) string    { return fmt.Sprintf(t.NoSlots, t.HumanDate(d)) }
func (t *Texts) ChooseTimeMsg(d civil.Date) string { return fmt.Sprintf(t.ChooseTime, t.HumanDate(d)) }

func (t *Texts) SummaryMsg(reason string, d civil.Date, at wallclock.Clock, minutes int) string {
	return fmt.Sprintf(t.Summary, reason, t.FullDate(d), at, minutes)
}

// ConfirmedMsg tells the patient the doctor accepted the appointment starting
// at the wall-clock timestamp start.
func (t *Texts) ConfirmedMsg(doctor string, start time.Time) string {
	d, c := wallclock.Split(start)
	return fmt.Sprintf(t.Confirmed, doctor, t.FullDate(d), c)
}

func (t *Texts) RejectedMsg(start time.Time, reason string) string {
	d, c := wallclock.Split(start)
	msg := fmt.Sprintf(t.Rejected, t.FullDate(d), c)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += "\n" + fmt.Sprintf(t.RejectedReason, reason)
	}
	return msg
}

func (t *Texts) CancelledMsg(start time.Time, reason string) string {
	d, c := wallclock.Split(start)
	msg := fmt.Sprintf(t.Cancelled, t.FullDate(d), c)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += "\n" + fmt.Sprintf(t.RejectedReason, reason)
	}
	return msg
}

// Doctor-side messages are Russian only.

const (
	DoctorConfirm          = "✅ Подтвердить"
	DoctorReject           = "❌ Отклонить"
	DoctorAlreadyProcessed = "Эта запись уже обработана."
	DoctorConfirmed        = "Запись #%d подтверждена."
	DoctorRejected         = "Запись #%d отклонена."
	DoctorNotAllowed       = "Недостаточно прав."
)

// NewBookingForDoctor describes a fresh PENDING appointment for the doctor.
func NewBookingForDoctor(d model.AppointmentDetails) string {
	t := For(model.LanguageRU)
	date, at := wallclock.Split(d.StartAt)

	var b strings.Builder
	fmt.Fprintf(&b, "🆕 Новая запись #%d\n", d.ID)
	name := d.Patient.FirstName
	if d.Patient.LastName != nil && *d.Patient.LastName != "" {
		name += " " + *d.Patient.LastName
	}
	fmt.Fprintf(&b, "Пациент: %s\n", name)
	if d.Patient.PhoneNumber != nil {
		fmt.Fprintf(&b, "Телефон: %s\n", *d.Patient.PhoneNumber)
	}
	fmt.Fprintf(&b, "Причина: %s\n", d.Reason(model.LanguageRU))
	if d.Service != nil && d.CustomReason != nil && *d.CustomReason != "" {
		fmt.Fprintf(&b, "Со слов пациента: %s\n", *d.CustomReason)
	}
	fmt.Fprintf(&b, "Дата: %s\nВремя: %s\nДлительность: %d %s", t.FullDate(date), at, d.DurationMin, t.Minutes)
	return b.String()
}
