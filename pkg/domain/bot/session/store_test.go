package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/repository/memstore"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *memstore.Store, *fixedClock) {
	t.Helper()
	mem := memstore.New()
	clk := &fixedClock{now: time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)}
	return NewStore(mem, mem, time.Hour, zerolog.Nop()).WithClock(clk.Now), mem, clk
}

func TestGetCreatesFreshSessionForNewUser(t *testing.T) {
	store, mem, _ := newTestStore(t)

	sess, err := store.Get(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, AwaitingLanguage{}, sess.State)
	assert.Equal(t, int64(200), sess.ChatID)
	assert.True(t, sess.Fresh)

	raw, ok := mem.Session(100)
	require.True(t, ok, "session persisted on creation")
	assert.Equal(t, string(StepAwaitingLanguage), raw.Step)
}

func TestGetSkipsIdentificationForReturningPatient(t *testing.T) {
	store, mem, _ := newTestStore(t)
	id, err := mem.UpsertPatient(context.Background(), model.Patient{
		ExternalUserID:    100,
		ChatID:            200,
		FirstName:         "Анна",
		PreferredLanguage: model.LanguageARM,
	})
	require.NoError(t, err)

	sess, err := store.Get(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, AwaitingService{Identity: Identity{Language: model.LanguageARM, PatientID: id}}, sess.State)
	assert.True(t, sess.Fresh)

	again, err := store.Get(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.False(t, again.Fresh, "stored session is not fresh")
}

func TestGetReturnsStoredState(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	want := AwaitingReason{Identity: Identity{Language: model.LanguageRU, PatientID: 3}}
	require.NoError(t, store.Update(ctx, &Session{UserID: 1, ChatID: 2, State: want}))

	sess, err := store.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, want, sess.State)
	assert.False(t, sess.Fresh)
}

func TestGetRestartsExpiredSession(t *testing.T) {
	store, _, clk := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, &Session{UserID: 1, ChatID: 2, State: AwaitingReason{
		Identity: Identity{Language: model.LanguageRU, PatientID: 3},
	}}))
	clk.Advance(2 * time.Hour)

	sess, err := store.Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, AwaitingLanguage{}, sess.State)
	assert.True(t, sess.Fresh)
}

func TestGetReportsCorruptSession(t *testing.T) {
	store, mem, clk := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, mem.SaveSession(ctx, model.SessionData{UserID: 1, Step: "awaiting_time", UpdatedAt: clk.Now()}))

	_, err := store.Get(ctx, 1, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrCorruptSession))
}

func TestRestartIgnoresKnownPatient(t *testing.T) {
	store, mem, _ := newTestStore(t)
	ctx := context.Background()
	_, err := mem.UpsertPatient(ctx, model.Patient{ExternalUserID: 1, PreferredLanguage: model.LanguageRU})
	require.NoError(t, err)

	sess, err := store.Restart(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, AwaitingLanguage{}, sess.State)

	raw, ok := mem.Session(1)
	require.True(t, ok)
	assert.Equal(t, string(StepAwaitingLanguage), raw.Step)
}

func TestResetDeletesSession(t *testing.T) {
	store, mem, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, &Session{UserID: 1, State: AwaitingLanguage{}}))

	require.NoError(t, store.Reset(ctx, 1))
	_, ok := mem.Session(1)
	assert.False(t, ok)
}

func TestPurgeExpired(t *testing.T) {
	store, mem, clk := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, &Session{UserID: 1, State: AwaitingLanguage{}}))
	clk.Advance(90 * time.Minute)
	require.NoError(t, store.Update(ctx, &Session{UserID: 2, State: AwaitingLanguage{}}))

	n, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := mem.Session(1)
	assert.False(t, ok)
	_, ok = mem.Session(2)
	assert.True(t, ok)
}

func TestConcurrentGetCreatesOneSession(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errc := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := store.Get(ctx, 1, 2)
			if err == nil && sess.State.Step() != StepAwaitingLanguage {
				err = errors.New("unexpected step " + string(sess.State.Step()))
			}
			errc <- err
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		assert.NoError(t, err)
	}
}
