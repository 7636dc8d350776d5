package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

func (r *PGRepo) LoadSession(ctx context.Context, userID int64) (*model.SessionData, error) {
	s := model.SessionData{UserID: userID}
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT chat_id, step, payload, updated_at FROM user_session WHERE user_id = $1`, userID).
		Scan(&s.ChatID, &s.Step, &payload, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(errs.New("failed to load session").Arg("user_id", userID), err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &s.Payload); err != nil {
			return nil, errs.New("failed to decode session payload").Arg("user_id", userID).Arg("cause", err.Error()).
				Wrap(model.ErrCorruptSession)
		}
	}
	return &s, nil
}

func (r *PGRepo) InsertSession(ctx context.Context, s model.SessionData) (bool, error) {
	pb, err := json.Marshal(s.Payload)
	if err != nil {
		return false, errs.New("failed to encode session payload").Wrap(err)
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO user_session (user_id, chat_id, step, payload, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO NOTHING
	`, s.UserID, s.ChatID, s.Step, pb, s.UpdatedAt)
	if err != nil {
		return false, errs.New("failed to insert session").Arg("user_id", s.UserID).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepo) SaveSession(ctx context.Context, s model.SessionData) error {
	pb, err := json.Marshal(s.Payload)
	if err != nil {
		return errs.New("failed to encode session payload").Wrap(err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO user_session (user_id, chat_id, step, payload, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE
		   SET chat_id=EXCLUDED.chat_id, step=EXCLUDED.step, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at
	`, s.UserID, s.ChatID, s.Step, pb, s.UpdatedAt)
	if err != nil {
		return errs.New("failed to save session").Arg("user_id", s.UserID).Wrap(err)
	}
	return nil
}

func (r *PGRepo) DeleteSession(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM user_session WHERE user_id = $1`, userID); err != nil {
		return errs.New("failed to delete session").Arg("user_id", userID).Wrap(err)
	}
	return nil
}

func (r *PGRepo) PurgeSessions(ctx context.Context, idleSince time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_session WHERE updated_at < $1`, idleSince)
	if err != nil {
		return 0, errs.New("failed to purge sessions").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
