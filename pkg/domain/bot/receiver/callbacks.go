package receiver

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/callback"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/receiver/texts"
	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/session"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

func (e *Engine) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) (err error) {
	var toast string
	// the client shows a spinner until the query is answered
	defer func() { e.answer(ctx, cq.ID, toast) }()

	if cq.From == nil {
		return nil
	}

	data, parseErr := callback.Parse(cq.Data)
	if parseErr == nil && data.Action.Doctor() {
		toast, err = e.onDoctorDecision(ctx, cq, data)
		return err
	}

	chatID := cq.From.ID
	if cq.Message != nil && cq.Message.Chat != nil {
		chatID = cq.Message.Chat.ID
	}

	conv, restarted, err := e.load(ctx, cq.From.ID, chatID)
	if err != nil {
		e.send(ctx, chatID, texts.For("").SomethingWrong, nil)
		return err
	}
	if restarted {
		return e.prompt(ctx, conv, "")
	}
	if parseErr != nil {
		e.logger.Debug().Err(parseErr).Str("data", cq.Data).Msg("unrecognised callback")
		return e.prompt(ctx, conv, "")
	}

	if err = e.onCallback(ctx, conv, data); err != nil {
		e.send(ctx, chatID, texts.For(conv.lang()).SomethingWrong, nil)
		return err
	}
	return nil
}

func (e *Engine) onCallback(ctx context.Context, conv *conversation, data callback.Data) error {
	switch st := conv.sess.State.(type) {
	case session.AwaitingLanguage:
		if data.Action == callback.ActionLanguage && data.Language.Valid() {
			if err := e.move(ctx, conv, session.AwaitingName{Language: data.Language}); err != nil {
				return err
			}
			e.send(ctx, conv.sess.ChatID, texts.For(data.Language).AskName, nil)
			return nil
		}
	case session.AwaitingService:
		switch data.Action {
		case callback.ActionService:
			return e.onServiceChosen(ctx, conv, st.Identity, data.ID, "")
		case callback.ActionServiceOther:
			return e.onOther(ctx, conv, st.Identity)
		}
	case session.AwaitingServiceReview:
		switch data.Action {
		case callback.ActionService:
			return e.onServiceChosen(ctx, conv, st.Identity, data.ID, st.Reason)
		case callback.ActionServiceKeep:
			b := session.Booking{CustomReason: st.Reason, DurationMinutes: e.config.DefaultDurationMin}
			return e.enterDate(ctx, conv, st.Identity, b, "")
		}
	case session.AwaitingDate:
		if data.Action == callback.ActionDate {
			return e.onDate(ctx, conv, st, data.Date)
		}
	case session.AwaitingTime:
		if data.Action == callback.ActionTime {
			return e.onTime(ctx, conv, st, data.Time)
		}
	case session.AwaitingConfirmation:
		switch data.Action {
		case callback.ActionConfirmYes:
			return e.onConfirm(ctx, conv, st)
		case callback.ActionConfirmNo:
			return e.onDecline(ctx, conv, st)
		}
	}

	// Summary buttons outlive the booking they belonged to; pressing them
	// again must not replay the flow.
	if data.Action == callback.ActionConfirmYes || data.Action == callback.ActionConfirmNo {
		e.logger.Debug().Int64("user_id", conv.sess.UserID).Str("step", string(conv.sess.State.Step())).
			Msg("confirmation button outside confirmation step")
		return nil
	}

	e.logger.Debug().Int64("user_id", conv.sess.UserID).Str("action", data.Action.String()).
		Str("step", string(conv.sess.State.Step())).Msg("stale button")
	return e.prompt(ctx, conv, "")
}

// onDoctorDecision applies the doctor's verdict and returns the toast for the
// doctor's client.
func (e *Engine) onDoctorDecision(ctx context.Context, cq *tgbotapi.CallbackQuery, data callback.Data) (string, error) {
	doctor, err := e.repo.GetDoctor(ctx, e.config.DoctorID)
	if err != nil {
		return "", errs.New("failed to load doctor").Arg("doctor_id", e.config.DoctorID).Wrap(err)
	}
	if cq.Message == nil || cq.Message.Chat == nil || cq.Message.Chat.ID != doctor.TelegramChatID {
		e.logger.Warn().Int64("user_id", cq.From.ID).Str("action", data.Action.String()).
			Msg("appointment decision from outside the doctor's chat")
		return texts.DoctorNotAllowed, nil
	}

	var reply string
	switch data.Action {
	case callback.ActionAppointmentConfirm:
		err = e.dispatcher.Confirm(ctx, data.ID)
		reply = fmt.Sprintf(texts.DoctorConfirmed, data.ID)
	case callback.ActionAppointmentReject:
		err = e.dispatcher.Reject(ctx, data.ID, "")
		reply = fmt.Sprintf(texts.DoctorRejected, data.ID)
	}

	switch {
	case errors.Is(err, model.ErrAlreadyProcessed), errors.Is(err, model.ErrNotFound):
		return texts.DoctorAlreadyProcessed, nil
	case err != nil:
		return "", err
	}
	e.send(ctx, doctor.TelegramChatID, reply, nil)
	return reply, nil
}
