// Package receiver is the booking dialogue: it turns Telegram updates into
// session transitions, availability lookups and appointment commits.
package receiver

import (
	"context"
	"errors"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/napryag/doctor_booking_bot/pkg/domain/bot/session"
	"github.com/napryag/doctor_booking_bot/pkg/domain/classifier"
	"github.com/napryag/doctor_booking_bot/pkg/observability/metrics"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

// Messenger is the outbound chat transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, markup any) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Dispatcher handles what happens to an appointment after it is committed.
type Dispatcher interface {
	BookingCreated(ctx context.Context, id int64) error
	Confirm(ctx context.Context, id int64) error
	Reject(ctx context.Context, id int64, reason string) error
}

// Classifier maps free text onto a catalogue service.
type Classifier interface {
	Enabled() bool
	Classify(ctx context.Context, text string, catalog []model.Service) *classifier.Match
}

type Config struct {
	DoctorID           int64
	MaxActive          int
	HorizonDays        int
	MaxDates           int
	DefaultDurationMin int
	Location           *time.Location
}

func (c Config) withDefaults() Config {
	if c.MaxActive <= 0 {
		c.MaxActive = 3
	}
	if c.DefaultDurationMin <= 0 {
		c.DefaultDurationMin = 30
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

type Option func(*Engine)

func WithClassifier(c Classifier) Option { return func(e *Engine) { e.classifier = c } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock replaces the time source; used by tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

type Engine struct {
	config     Config
	repo       model.Repo
	sessions   *session.Store
	messenger  Messenger
	dispatcher Dispatcher
	classifier Classifier
	metrics    *metrics.BookingMetrics
	now        func() time.Time
	logger     zerolog.Logger
}

func New(config Config, repo model.Repo, sessions *session.Store, messenger Messenger, dispatcher Dispatcher, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		config:     config.withDefaults(),
		repo:       repo,
		sessions:   sessions,
		messenger:  messenger,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle processes one update. Errors are already reported to the user; the
// caller only logs them.
func (e *Engine) Handle(ctx context.Context, upd tgbotapi.Update) error {
	e.logger.Trace().Int("update_id", upd.UpdateID).Msg("In")
	defer e.logger.Trace().Int("update_id", upd.UpdateID).Msg("Out")

	var (
		kind string
		err  error
	)
	switch {
	case upd.CallbackQuery != nil:
		kind = "callback"
		err = e.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		kind = "message"
		err = e.handleMessage(ctx, upd.Message)
	default:
		e.metrics.ObserveUpdate("other", "ignored")
		return nil
	}

	if err != nil {
		e.metrics.ObserveUpdate(kind, "error")
		return errs.New("failed to handle update").Arg("update_id", upd.UpdateID).Wrap(err)
	}
	e.metrics.ObserveUpdate(kind, "ok")
	return nil
}

// conversation is the per-update working set.
type conversation struct {
	sess   *session.Session
	doctor *model.Doctor
}

func (c *conversation) lang() model.Language { return c.sess.Language() }

// load fetches the session and the doctor. A corrupt session is replaced by
// a fresh one and reported through restarted.
func (e *Engine) load(ctx context.Context, userID, chatID int64) (conv *conversation, restarted bool, err error) {
	doctor, err := e.repo.GetDoctor(ctx, e.config.DoctorID)
	if err != nil {
		return nil, false, errs.New("failed to load doctor").Arg("doctor_id", e.config.DoctorID).Wrap(err)
	}

	sess, err := e.sessions.Get(ctx, userID, chatID)
	if errors.Is(err, model.ErrCorruptSession) {
		e.logger.Warn().Err(err).Int64("user_id", userID).Msg("corrupt session, restarting conversation")
		sess, err = e.sessions.Restart(ctx, userID, chatID)
		restarted = true
	}
	if err != nil {
		return nil, false, err
	}
	return &conversation{sess: sess, doctor: doctor}, restarted, nil
}

// move persists the next state.
func (e *Engine) move(ctx context.Context, conv *conversation, next session.State) error {
	from := conv.sess.State.Step()
	conv.sess.State = next
	if err := e.sessions.Update(ctx, conv.sess); err != nil {
		return err
	}
	e.logger.Debug().Int64("user_id", conv.sess.UserID).Str("from", string(from)).Str("to", string(next.Step())).
		Msg("state changed")
	return nil
}

// finish deletes the session after a completed booking.
func (e *Engine) finish(ctx context.Context, conv *conversation) error {
	return e.sessions.Reset(ctx, conv.sess.UserID)
}

// send delivers a message; delivery failures are logged, never returned.
func (e *Engine) send(ctx context.Context, chatID int64, text string, markup any) {
	if err := e.messenger.Send(ctx, chatID, text, markup); err != nil {
		e.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to deliver message")
	}
}

func (e *Engine) answer(ctx context.Context, id, text string) {
	if err := e.messenger.AnswerCallback(ctx, id, text); err != nil {
		e.logger.Warn().Err(err).Str("callback_id", id).Msg("failed to answer callback")
	}
}
