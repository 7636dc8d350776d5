package receiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/repository/redisstore"
)

type recordingHandler struct {
	mu     sync.Mutex
	byUser map[int64][]int
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, upd tgbotapi.Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser == nil {
		h.byUser = map[int64][]int{}
	}
	u := userOf(upd)
	h.byUser[u] = append(h.byUser[u], upd.UpdateID)
	return h.err
}

func (h *recordingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ids := range h.byUser {
		n += len(ids)
	}
	return n
}

type brokenRedis struct{}

func (brokenRedis) MarkUpdate(context.Context, int) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenRedis) Lock(context.Context, int64) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenRedis) Unlock(context.Context, int64, string) error { return nil }

func (brokenRedis) ForgetUpdate(context.Context, int) error { return errors.New("connection refused") }

// gatedHandler holds every update until release is closed.
type gatedHandler struct {
	recordingHandler
	started chan int
	release chan struct{}
}

func newGatedHandler() *gatedHandler {
	return &gatedHandler{started: make(chan int, 16), release: make(chan struct{})}
}

func (h *gatedHandler) Handle(ctx context.Context, upd tgbotapi.Update) error {
	h.started <- upd.UpdateID
	<-h.release
	return h.recordingHandler.Handle(ctx, upd)
}

func messageFrom(updateID int, userID int64) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: updateID, Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: "hi",
	}}
}

func setupRedis(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return redisstore.New(client), mr
}

func TestPoolKeepsPerUserOrder(t *testing.T) {
	h := &recordingHandler{}
	p := NewPool(h, zerolog.Nop(), WithWorkerCount(3), WithQueueSize(4))
	p.Start(context.Background())

	for i := 1; i <= 60; i++ {
		require.NoError(t, p.Submit(context.Background(), messageFrom(i, int64(i%4+1))))
	}
	p.Stop()

	assert.Equal(t, 60, h.total())
	for user, ids := range h.byUser {
		assert.IsIncreasing(t, ids, "user %d", user)
	}
}

func TestPoolDropsDuplicateUpdates(t *testing.T) {
	store, _ := setupRedis(t)
	h := &recordingHandler{}
	p := NewPool(h, zerolog.Nop(), WithWorkerCount(2), WithDeduper(store), WithLocker(store))
	p.Start(context.Background())

	upd := messageFrom(7001, 42)
	require.NoError(t, p.Submit(context.Background(), upd))
	require.NoError(t, p.Submit(context.Background(), upd))
	require.NoError(t, p.Submit(context.Background(), messageFrom(7002, 42)))
	p.Stop()

	assert.Equal(t, []int{7001, 7002}, h.byUser[42])

	// the per-user lock is released after each update
	_, ok, err := store.TryLock(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPoolProcessesWhenRedisIsDown(t *testing.T) {
	h := &recordingHandler{}
	p := NewPool(h, zerolog.Nop(), WithDeduper(brokenRedis{}), WithLocker(brokenRedis{}))
	p.Start(context.Background())

	require.NoError(t, p.Submit(context.Background(), messageFrom(1, 5)))
	require.NoError(t, p.Submit(context.Background(), messageFrom(1, 5)))
	p.Stop()

	assert.Equal(t, 2, h.total(), "without dedup both deliveries are processed")
}

func TestPoolSurvivesHandlerErrors(t *testing.T) {
	h := &recordingHandler{err: errors.New("boom")}
	p := NewPool(h, zerolog.Nop(), WithWorkerCount(1))
	p.Start(context.Background())

	require.NoError(t, p.Submit(context.Background(), messageFrom(1, 9)))
	require.NoError(t, p.Submit(context.Background(), messageFrom(2, 9)))
	p.Stop()

	assert.Equal(t, []int{1, 2}, h.byUser[9])
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p := NewPool(&recordingHandler{}, zerolog.Nop())
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.Submit(context.Background(), messageFrom(1, 1)), ErrPoolStopped)
}

func TestPoolRefusesWhenQueueStaysFull(t *testing.T) {
	store, _ := setupRedis(t)
	h := newGatedHandler()
	p := NewPool(h, zerolog.Nop(), WithWorkerCount(1), WithQueueSize(1), WithEnqueueWait(20*time.Millisecond),
		WithDeduper(store))
	p.Start(context.Background())
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, messageFrom(1, 7)))
	assert.Equal(t, 1, <-h.started)
	require.NoError(t, p.Submit(ctx, messageFrom(2, 7)))

	begin := time.Now()
	err := p.Submit(ctx, messageFrom(3, 7))
	assert.ErrorIs(t, err, ErrPoolBusy)
	assert.Less(t, time.Since(begin), time.Second, "a full queue does not stall the caller")

	close(h.release)
	// the refused update was forgotten, so its redelivery is accepted
	assert.Eventually(t, func() bool {
		return p.Submit(ctx, messageFrom(3, 7)) == nil
	}, time.Second, 10*time.Millisecond)
	p.Stop()

	assert.Equal(t, []int{1, 2, 3}, h.byUser[7])
}

func TestPoolForgetsUpdatesRefusedAfterStop(t *testing.T) {
	store, _ := setupRedis(t)
	p := NewPool(&recordingHandler{}, zerolog.Nop(), WithDeduper(store))
	p.Start(context.Background())
	p.Stop()

	assert.ErrorIs(t, p.Submit(context.Background(), messageFrom(8001, 1)), ErrPoolStopped)

	fresh, err := store.MarkUpdate(context.Background(), 8001)
	require.NoError(t, err)
	assert.True(t, fresh, "refused update can be delivered again")
}

func TestUserOf(t *testing.T) {
	assert.Equal(t, int64(3), userOf(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 3}}}))
	assert.Equal(t, int64(4), userOf(messageFrom(1, 4)))
	assert.Equal(t, int64(5), userOf(tgbotapi.Update{EditedMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 5}}}))
	assert.Zero(t, userOf(tgbotapi.Update{}))
}
