package receiver

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

const (
	defaultWorkerCount = 8
	defaultQueueSize   = 64
	defaultLockWait    = 10 * time.Second
	defaultHandleLimit = 30 * time.Second
	defaultEnqueueWait = 2 * time.Second
	forgetTimeout      = time.Second
)

var (
	// ErrPoolBusy means the user's queue stayed full; the update was not taken.
	ErrPoolBusy    = errors.New("pool is busy")
	ErrPoolStopped = errors.New("pool is stopped")
)

// Handler processes one update.
type Handler interface {
	Handle(ctx context.Context, upd tgbotapi.Update) error
}

// Deduper remembers update ids that were already accepted.
type Deduper interface {
	MarkUpdate(ctx context.Context, updateID int) (bool, error)
	ForgetUpdate(ctx context.Context, updateID int) error
}

// Locker serialises one user's updates across replicas.
type Locker interface {
	Lock(ctx context.Context, userID int64) (string, error)
	Unlock(ctx context.Context, userID int64, token string) error
}

type PoolOption func(*Pool)

func WithWorkerCount(count int) PoolOption {
	return func(p *Pool) {
		if count > 0 {
			p.workers = count
		}
	}
}

func WithQueueSize(size int) PoolOption {
	return func(p *Pool) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

// WithEnqueueWait bounds how long Submit waits for room in a full queue.
func WithEnqueueWait(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.enqueueWait = d
		}
	}
}

func WithDeduper(d Deduper) PoolOption { return func(p *Pool) { p.dedup = d } }

func WithLocker(l Locker) PoolOption { return func(p *Pool) { p.locker = l } }

// Pool runs updates on a fixed set of workers. Updates of one user always
// land on the same worker, so they are applied in arrival order.
type Pool struct {
	handler   Handler
	dedup     Deduper
	locker    Locker
	workers     int
	queueSize   int
	enqueueWait time.Duration
	logger      zerolog.Logger

	queues []chan tgbotapi.Update
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewPool(handler Handler, logger zerolog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		handler:     handler,
		workers:     defaultWorkerCount,
		queueSize:   defaultQueueSize,
		enqueueWait: defaultEnqueueWait,
		logger:      logger.With().Str("component", "pool").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queues = make([]chan tgbotapi.Update, p.workers)
	for i := range p.queues {
		p.queues[i] = make(chan tgbotapi.Update, p.queueSize)
	}
	return p
}

// Start launches the workers. They drain their queues after Stop and exit.
func (p *Pool) Start(ctx context.Context) {
	for i, q := range p.queues {
		p.wg.Add(1)
		go p.run(ctx, i+1, q)
	}
}

// Submit enqueues upd unless it was seen before. While the user's queue is
// full it waits up to the enqueue wait, then fails with ErrPoolBusy. An update
// that was not enqueued is forgotten by the deduper so a redelivery is
// processed.
func (p *Pool) Submit(ctx context.Context, upd tgbotapi.Update) error {
	marked := false
	if p.dedup != nil {
		fresh, err := p.dedup.MarkUpdate(ctx, upd.UpdateID)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Int("update_id", upd.UpdateID).Msg("dedup unavailable, processing anyway")
		case !fresh:
			p.logger.Debug().Int("update_id", upd.UpdateID).Msg("duplicate update dropped")
			return nil
		default:
			marked = true
		}
	}

	err := p.enqueue(ctx, upd)
	if err != nil && marked {
		p.forget(ctx, upd.UpdateID)
	}
	return err
}

func (p *Pool) enqueue(ctx context.Context, upd tgbotapi.Update) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return errs.New("update refused").Arg("update_id", upd.UpdateID).Wrap(ErrPoolStopped)
	}

	queue := p.queues[p.shard(userOf(upd))]
	select {
	case queue <- upd:
		return nil
	default:
	}

	timer := time.NewTimer(p.enqueueWait)
	defer timer.Stop()
	select {
	case queue <- upd:
		return nil
	case <-timer.C:
		p.logger.Warn().Int("update_id", upd.UpdateID).Int64("user_id", userOf(upd)).Msg("queue full, update refused")
		return errs.New("update refused").Arg("update_id", upd.UpdateID).Wrap(ErrPoolBusy)
	case <-ctx.Done():
		return errs.New("submit cancelled").Arg("update_id", upd.UpdateID).Wrap(ctx.Err())
	}
}

func (p *Pool) forget(ctx context.Context, updateID int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forgetTimeout)
	defer cancel()
	if err := p.dedup.ForgetUpdate(ctx, updateID); err != nil {
		p.logger.Warn().Err(err).Int("update_id", updateID).Msg("failed to forget refused update")
	}
}

// Stop closes the queues and waits for in-flight updates.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, q := range p.queues {
			close(q)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID int, queue <-chan tgbotapi.Update) {
	defer p.wg.Done()
	p.logger.Debug().Int("worker_id", workerID).Msg("worker started")

	for upd := range queue {
		p.process(ctx, upd)
	}
	p.logger.Debug().Int("worker_id", workerID).Msg("worker stopped")
}

func (p *Pool) process(ctx context.Context, upd tgbotapi.Update) {
	// in-flight updates finish even while shutting down
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultHandleLimit)
	defer cancel()

	userID := userOf(upd)
	if p.locker != nil && userID != 0 {
		lockCtx, cancelLock := context.WithTimeout(ctx, defaultLockWait)
		token, err := p.locker.Lock(lockCtx, userID)
		cancelLock()
		if err != nil {
			p.logger.Warn().Err(err).Int64("user_id", userID).Msg("user lock unavailable, processing anyway")
		} else {
			defer func() {
				if err := p.locker.Unlock(ctx, userID, token); err != nil {
					p.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to release user lock")
				}
			}()
		}
	}

	if err := p.handler.Handle(ctx, upd); err != nil {
		p.logger.Error().Err(err).Int("update_id", upd.UpdateID).Int64("user_id", userID).Msg("update handling failed")
	}
}

func (p *Pool) shard(userID int64) int {
	if userID < 0 {
		userID = -userID
	}
	return int(userID % int64(len(p.queues)))
}

// userOf returns the Telegram user behind upd, zero when there is none.
func userOf(upd tgbotapi.Update) int64 {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		return upd.CallbackQuery.From.ID
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID
	case upd.EditedMessage != nil && upd.EditedMessage.From != nil:
		return upd.EditedMessage.From.ID
	}
	return 0
}
