// Package redisstore keeps the short-lived coordination state of the bot in
// Redis: which Telegram updates were already handled and which users are
// currently being processed.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const (
	DefaultDedupTTL = 10 * time.Minute
	DefaultLockTTL  = 30 * time.Second

	updateKeyPrefix = "tg:update:"
	lockKeyPrefix   = "tg:lock:user:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Store struct {
	client   redis.UniversalClient
	dedupTTL time.Duration
	lockTTL  time.Duration
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client, dedupTTL: DefaultDedupTTL, lockTTL: DefaultLockTTL}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.New("failed to ping redis").Arg("addr", addr).Wrap(err)
	}
	return client, nil
}

// MarkUpdate records a Telegram update id. It reports false when the id was
// already seen within the dedup window.
func (s *Store) MarkUpdate(ctx context.Context, updateID int) (bool, error) {
	ok, err := s.client.SetNX(ctx, fmt.Sprintf("%s%d", updateKeyPrefix, updateID), 1, s.dedupTTL).Result()
	if err != nil {
		return false, errs.New("failed to mark update").Arg("update_id", updateID).Wrap(err)
	}
	return ok, nil
}

// ForgetUpdate drops the mark so a redelivery of updateID is accepted again.
func (s *Store) ForgetUpdate(ctx context.Context, updateID int) error {
	if err := s.client.Del(ctx, fmt.Sprintf("%s%d", updateKeyPrefix, updateID)).Err(); err != nil {
		return errs.New("failed to forget update").Arg("update_id", updateID).Wrap(err)
	}
	return nil
}

// TryLock takes the per-user processing lock. The returned token releases it.
func (s *Store) TryLock(ctx context.Context, userID int64) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(userID), token, s.lockTTL).Result()
	if err != nil {
		return "", false, errs.New("failed to take user lock").Arg("user_id", userID).Wrap(err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Lock polls TryLock until it succeeds or ctx is done.
func (s *Store) Lock(ctx context.Context, userID int64) (string, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		token, ok, err := s.TryLock(ctx, userID)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", errs.New("user lock wait cancelled").Arg("user_id", userID).Wrap(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock if token still owns it.
func (s *Store) Unlock(ctx context.Context, userID int64, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(userID)}, token).Err(); err != nil {
		return errs.New("failed to release user lock").Arg("user_id", userID).Wrap(err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func lockKey(userID int64) string {
	return fmt.Sprintf("%s%d", lockKeyPrefix, userID)
}
