package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const DefaultTTL = 24 * time.Hour

// PatientLookup finds returning patients so they can skip identification.
type PatientLookup interface {
	GetPatientByExternalID(ctx context.Context, externalUserID int64) (*model.Patient, error)
}

// Store is the durable per-user conversation store.
type Store struct {
	sessions model.SessionRepo
	patients PatientLookup
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewStore(sessions model.SessionRepo, patients PatientLookup, ttl time.Duration, logger zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: sessions,
		patients: patients,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "session_store").Logger(),
	}
}

// WithClock replaces the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the user's session, creating it when missing or expired.
// Returning patients start at AwaitingService with their known language.
// Sessions created here are marked Fresh.
// A stored record that cannot be decoded yields an error wrapping
// model.ErrCorruptSession.
func (s *Store) Get(ctx context.Context, userID, chatID int64) (*Session, error) {
	data, err := s.sessions.LoadSession(ctx, userID)
	switch {
	case err == nil && s.expired(data):
		s.logger.Debug().Int64("user_id", userID).Time("updated_at", data.UpdatedAt).Msg("session expired")
		return s.create(ctx, userID, chatID, true)
	case err == nil:
		sess, err := Decode(*data)
		if err != nil {
			return nil, err
		}
		if chatID != 0 {
			sess.ChatID = chatID
		}
		return sess, nil
	case errors.Is(err, model.ErrNotFound):
		return s.create(ctx, userID, chatID, false)
	default:
		return nil, errs.New("failed to load session").Arg("user_id", userID).Wrap(err)
	}
}

// Update persists the session (upsert keyed by user id).
func (s *Store) Update(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = s.now()
	if err := s.sessions.SaveSession(ctx, Encode(*sess)); err != nil {
		return errs.New("failed to save session").Arg("user_id", sess.UserID).Arg("step", sess.State.Step()).Wrap(err)
	}
	return nil
}

// Reset deletes the session row.
func (s *Store) Reset(ctx context.Context, userID int64) error {
	if err := s.sessions.DeleteSession(ctx, userID); err != nil {
		return errs.New("failed to delete session").Arg("user_id", userID).Wrap(err)
	}
	return nil
}

// Restart hard-resets the conversation and persists a fresh one at
// AwaitingLanguage, regardless of whether the user is a known patient.
func (s *Store) Restart(ctx context.Context, userID, chatID int64) (*Session, error) {
	if err := s.Reset(ctx, userID); err != nil {
		return nil, err
	}
	sess := &Session{UserID: userID, ChatID: chatID, State: AwaitingLanguage{}}
	if err := s.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// PurgeExpired deletes sessions idle for longer than the TTL.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.PurgeSessions(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, errs.New("failed to purge sessions").Wrap(err)
	}
	return n, nil
}

// RunSweeper purges expired sessions every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("session sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int64("purged", n).Msg("expired sessions purged")
			}
		}
	}
}

func (s *Store) expired(data *model.SessionData) bool {
	return !data.UpdatedAt.IsZero() && s.now().Sub(data.UpdatedAt) > s.ttl
}

func (s *Store) create(ctx context.Context, userID, chatID int64, replace bool) (*Session, error) {
	state, err := s.initialState(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess := &Session{UserID: userID, ChatID: chatID, State: state, UpdatedAt: s.now(), Fresh: true}

	if replace {
		if err := s.sessions.SaveSession(ctx, Encode(*sess)); err != nil {
			return nil, errs.New("failed to save session").Arg("user_id", userID).Wrap(err)
		}
		return sess, nil
	}

	created, err := s.sessions.InsertSession(ctx, Encode(*sess))
	if err != nil {
		return nil, errs.New("failed to insert session").Arg("user_id", userID).Wrap(err)
	}
	if created {
		return sess, nil
	}

	// A concurrent delivery created it first and owns the first prompt.
	data, err := s.sessions.LoadSession(ctx, userID)
	if err != nil {
		return nil, errs.New("failed to reload session").Arg("user_id", userID).Wrap(err)
	}
	return Decode(*data)
}

func (s *Store) initialState(ctx context.Context, userID int64) (State, error) {
	p, err := s.patients.GetPatientByExternalID(ctx, userID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return AwaitingLanguage{}, nil
	case err != nil:
		return nil, errs.New("failed to look up patient").Arg("user_id", userID).Wrap(err)
	case !p.PreferredLanguage.Valid():
		return AwaitingLanguage{}, nil
	}
	return AwaitingService{Identity: Identity{Language: p.PreferredLanguage, PatientID: p.ID}}, nil
}
