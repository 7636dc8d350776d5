// Package callback encodes inline-button payloads. The wire form keeps the
// historical string prefixes so buttons sent by older builds still parse.
package callback

import (
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
	"github.com/napryag/doctor_booking_bot/pkg/utils/wallclock"
)

// MaxLen is Telegram's callback_data limit in bytes.
const MaxLen = 64

type Action int

const (
	ActionUnknown Action = iota
	ActionLanguage
	ActionService
	ActionServiceOther
	ActionServiceKeep
	ActionDate
	ActionTime
	ActionConfirmYes
	ActionConfirmNo
	ActionAppointmentConfirm
	ActionAppointmentReject
)

func (a Action) String() string {
	switch a {
	case ActionLanguage:
		return "language"
	case ActionService:
		return "service"
	case ActionServiceOther:
		return "service_other"
	case ActionServiceKeep:
		return "service_keep"
	case ActionDate:
		return "date"
	case ActionTime:
		return "time"
	case ActionConfirmYes:
		return "confirm_yes"
	case ActionConfirmNo:
		return "confirm_no"
	case ActionAppointmentConfirm:
		return "apt_confirm"
	case ActionAppointmentReject:
		return "apt_reject"
	}
	return "unknown"
}

// Doctor reports whether the action belongs to the doctor's approval buttons.
func (a Action) Doctor() bool {
	return a == ActionAppointmentConfirm || a == ActionAppointmentReject
}

const (
	prefixLanguage   = "lang_"
	prefixService    = "service_"
	prefixDate       = "date_"
	prefixSelectDate = "select_date_"
	prefixTime       = "time_"
	prefixSelectTime = "select_time_"
	prefixAptConfirm = "apt_confirm_"
	prefixAptReject  = "apt_reject_"
	dataServiceOther = "service_other"
	dataServiceKeep  = "service_keep"
	dataConfirmYes   = "confirm_yes"
	dataConfirmNo    = "confirm_no"
)

// Data is a decoded button press. Only the fields of Action are set.
type Data struct {
	Action   Action
	Language model.Language
	ID       int64 // service or appointment id
	Date     civil.Date
	Time     wallclock.Clock
}

func Language(l model.Language) Data   { return Data{Action: ActionLanguage, Language: l} }
func Service(id int64) Data            { return Data{Action: ActionService, ID: id} }
func ServiceOther() Data               { return Data{Action: ActionServiceOther} }
func ServiceKeep() Data                { return Data{Action: ActionServiceKeep} }
func Date(d civil.Date) Data           { return Data{Action: ActionDate, Date: d} }
func Time(c wallclock.Clock) Data      { return Data{Action: ActionTime, Time: c} }
func ConfirmYes() Data                 { return Data{Action: ActionConfirmYes} }
func ConfirmNo() Data                  { return Data{Action: ActionConfirmNo} }
func AppointmentConfirm(id int64) Data { return Data{Action: ActionAppointmentConfirm, ID: id} }
func AppointmentReject(id int64) Data  { return Data{Action: ActionAppointmentReject, ID: id} }

// Encode renders d in its wire form.
func (d Data) Encode() string {
	switch d.Action {
	case ActionLanguage:
		return prefixLanguage + string(d.Language)
	case ActionService:
		return prefixService + strconv.FormatInt(d.ID, 10)
	case ActionServiceOther:
		return dataServiceOther
	case ActionServiceKeep:
		return dataServiceKeep
	case ActionDate:
		return prefixDate + d.Date.String()
	case ActionTime:
		return prefixTime + d.Time.String()
	case ActionConfirmYes:
		return dataConfirmYes
	case ActionConfirmNo:
		return dataConfirmNo
	case ActionAppointmentConfirm:
		return prefixAptConfirm + strconv.FormatInt(d.ID, 10)
	case ActionAppointmentReject:
		return prefixAptReject + strconv.FormatInt(d.ID, 10)
	}
	return ""
}

// Parse decodes raw callback data.
func Parse(raw string) (Data, error) {
	invalid := func(cause error) (Data, error) {
		e := errs.New("invalid callback data").Arg("data", raw)
		if cause != nil {
			e = e.Wrap(cause)
		}
		return Data{}, e
	}
	if raw == "" || len(raw) > MaxLen {
		return invalid(nil)
	}

	switch raw {
	case dataServiceOther:
		return ServiceOther(), nil
	case dataServiceKeep:
		return ServiceKeep(), nil
	case dataConfirmYes:
		return ConfirmYes(), nil
	case dataConfirmNo:
		return ConfirmNo(), nil
	}

	if v, ok := cut(raw, prefixLanguage); ok {
		l := model.Language(strings.ToUpper(v))
		if !l.Valid() {
			return invalid(nil)
		}
		return Language(l), nil
	}
	if v, ok := cut(raw, prefixAptConfirm); ok {
		id, err := parseID(v)
		if err != nil {
			return invalid(err)
		}
		return AppointmentConfirm(id), nil
	}
	if v, ok := cut(raw, prefixAptReject); ok {
		id, err := parseID(v)
		if err != nil {
			return invalid(err)
		}
		return AppointmentReject(id), nil
	}
	if v, ok := cut(raw, prefixService); ok {
		id, err := parseID(v)
		if err != nil {
			return invalid(err)
		}
		return Service(id), nil
	}
	if v, ok := cutAny(raw, prefixSelectDate, prefixDate); ok {
		d, err := wallclock.ParseDate(v)
		if err != nil {
			return invalid(err)
		}
		return Date(d), nil
	}
	if v, ok := cutAny(raw, prefixSelectTime, prefixTime); ok {
		c, err := wallclock.ParseClock(v)
		if err != nil {
			return invalid(err)
		}
		return Time(c), nil
	}
	return invalid(nil)
}

func cut(s, prefix string) (string, bool) {
	return strings.CutPrefix(s, prefix)
}

func cutAny(s string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if v, ok := strings.CutPrefix(s, p); ok {
			return v, true
		}
	}
	return "", false
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errs.New("id must be positive").Arg("id", id)
	}
	return id, nil
}
