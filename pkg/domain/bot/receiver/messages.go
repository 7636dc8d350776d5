package receiver

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/keyboards"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/texts"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/session"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const (
	minNameLen   = 2
	maxNameLen   = 64
	minReasonLen = 2
	maxReasonLen = 500
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,22}$`)

func (e *Engine) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.From == nil || m.Chat == nil {
		return nil
	}
	userID, chatID := m.From.ID, m.Chat.ID

	if m.IsCommand() && m.Command() == "start" {
		if _, err := e.sessions.Restart(ctx, userID, chatID); err != nil {
			e.send(ctx, chatID, texts.For("").SomethingWrong, nil)
			return err
		}
		e.send(ctx, chatID, texts.ChooseLanguage, keyboards.Languages())
		return nil
	}

	conv, restarted, err := e.load(ctx, userID, chatID)
	if err != nil {
		e.send(ctx, chatID, texts.For("").SomethingWrong, nil)
		return err
	}
	// A session created by this message has not asked its question yet.
	if restarted || conv.sess.Fresh {
		return e.prompt(ctx, conv, "")
	}

	if err = e.onMessage(ctx, conv, m); err != nil {
		e.send(ctx, chatID, texts.For(conv.lang()).SomethingWrong, nil)
		return err
	}
	return nil
}

func (e *Engine) onMessage(ctx context.Context, conv *conversation, m *tgbotapi.Message) error {
	switch st := conv.sess.State.(type) {
	case session.AwaitingName:
		return e.onName(ctx, conv, st, m.Text)
	case session.AwaitingPhone:
		return e.onPhone(ctx, conv, st, m)
	case session.AwaitingService:
		if strings.TrimSpace(m.Text) == "" {
			return e.enterService(ctx, conv, st.Identity, "")
		}
		limited, err := e.checkLimit(ctx, conv, st.Identity)
		if err != nil || limited {
			return err
		}
		return e.onReason(ctx, conv, st.Identity, m.Text)
	case session.AwaitingReason:
		return e.onReason(ctx, conv, st.Identity, m.Text)
	case session.AwaitingLanguage:
		return e.prompt(ctx, conv, "")
	}
	// button-driven steps
	return e.prompt(ctx, conv, texts.For(conv.lang()).UseButtons)
}

func (e *Engine) onName(ctx context.Context, conv *conversation, st session.AwaitingName, text string) error {
	t := texts.For(st.Language)

	first, last, ok := parseName(text)
	if !ok {
		e.send(ctx, conv.sess.ChatID, t.NameInvalid, nil)
		return nil
	}

	patientID, err := e.repo.UpsertPatient(ctx, model.Patient{
		ExternalUserID:    conv.sess.UserID,
		ChatID:            conv.sess.ChatID,
		FirstName:         first,
		LastName:          last,
		PreferredLanguage: st.Language,
	})
	if err != nil {
		return errs.New("failed to save patient").Arg("user_id", conv.sess.UserID).Wrap(err)
	}

	id := session.Identity{Language: st.Language, PatientID: patientID}
	if err = e.move(ctx, conv, session.AwaitingPhone{Identity: id}); err != nil {
		return err
	}
	e.send(ctx, conv.sess.ChatID, t.AskPhone, keyboards.Phone(st.Language))
	return nil
}

func (e *Engine) onPhone(ctx context.Context, conv *conversation, st session.AwaitingPhone, m *tgbotapi.Message) error {
	t := texts.For(st.Language)

	var phone *string
	switch {
	case m.Contact != nil:
		p, ok := parsePhone(m.Contact.PhoneNumber)
		if !ok {
			e.send(ctx, conv.sess.ChatID, t.PhoneInvalid, keyboards.Phone(st.Language))
			return nil
		}
		phone = &p
	case strings.TrimSpace(m.Text) == t.Skip:
	default:
		p, ok := parsePhone(m.Text)
		if !ok {
			e.send(ctx, conv.sess.ChatID, t.PhoneInvalid, keyboards.Phone(st.Language))
			return nil
		}
		phone = &p
	}

	if phone != nil {
		if err := e.repo.UpdatePatientPhone(ctx, st.PatientID, phone); err != nil {
			return errs.New("failed to save phone").Arg("patient_id", st.PatientID).Wrap(err)
		}
	}
	e.send(ctx, conv.sess.ChatID, t.PhoneSaved, keyboards.RemoveReply())
	return e.enterService(ctx, conv, st.Identity, "")
}

// onReason handles the patient's own description of the visit, trying the
// classifier first when the doctor enabled it.
func (e *Engine) onReason(ctx context.Context, conv *conversation, id session.Identity, text string) error {
	t := texts.For(id.Language)

	reason := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(reason) < minReasonLen {
		e.send(ctx, conv.sess.ChatID, t.ReasonInvalid, nil)
		return nil
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		reason = string([]rune(reason)[:maxReasonLen])
	}

	if !conv.doctor.ClassifierEnabled || e.classifier == nil || !e.classifier.Enabled() {
		return e.enterDate(ctx, conv, id, session.Booking{CustomReason: reason, DurationMinutes: e.config.DefaultDurationMin}, "")
	}

	services, err := e.repo.ListActiveServices(ctx, conv.doctor.ID)
	if err != nil {
		return errs.New("failed to list services").Wrap(err)
	}
	if match := e.classifier.Classify(ctx, reason, services); match != nil {
		for _, svc := range services {
			if svc.ID != match.ServiceID {
				continue
			}
			notice := t.ServiceDetectedMsg(svc.Name(id.Language), match.DurationMinutes)
			return e.enterDate(ctx, conv, id, session.Booking{ServiceID: svc.ID, CustomReason: reason, DurationMinutes: match.DurationMinutes}, notice)
		}
	}

	if err = e.move(ctx, conv, session.AwaitingServiceReview{Identity: id, Reason: reason}); err != nil {
		return err
	}
	e.send(ctx, conv.sess.ChatID, t.ServiceReviewMsg(reason), keyboards.Review(services, id.Language))
	return nil
}

// parseName splits "First [Last...]".
func parseName(text string) (string, *string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	first := fields[0]
	if n := utf8.RuneCountInString(first); n < minNameLen || n > maxNameLen {
		return "", nil, false
	}
	if len(fields) == 1 {
		return first, nil, true
	}
	last := strings.Join(fields[1:], " ")
	return first, &last, true
}

// parsePhone accepts loosely formatted numbers and returns them as "+digits".
func parsePhone(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !phonePattern.MatchString(text) {
		return "", false
	}
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if n := digits.Len(); n < 7 || n > 15 {
		return "", false
	}
	return "+" + digits.String(), true
}
