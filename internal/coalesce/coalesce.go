// Package coalesce deduplicates concurrent identical work across processes.
// The first caller for a key takes a short-lived store lock and does the
// work; everyone else polls the result cache until it appears or the wait
// budget runs out.
package coalesce

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/kvstore"
	"github.com/coinstax/reddit-ai-automod-sub000/internal/logging"
)

// ErrTimeout is returned by WaitForResult when the wait budget is exhausted
// before a result appears.
var ErrTimeout = errors.New("coalesce: timed out waiting for result")

// Defaults for the lock TTL and the polling schedule.
const (
	DefaultLockTTL      = 60 * time.Second
	DefaultAttempts     = 30
	DefaultPollInterval = time.Second
)

// Coalescer manages per-key locks and bounded waits. The zero polling fields
// take defaults; tests shrink them.
type Coalescer struct {
	store kvstore.Store
	keys  kvstore.Keyspace
	log   *zap.Logger

	LockTTL      time.Duration
	Attempts     int
	PollInterval time.Duration
}

// New builds a coalescer with default timing.
func New(store kvstore.Store, keys kvstore.Keyspace) *Coalescer {
	return &Coalescer{
		store:        store,
		keys:         keys,
		log:          logging.Get(logging.CategoryAnalyzer),
		LockTTL:      DefaultLockTTL,
		Attempts:     DefaultAttempts,
		PollInterval: DefaultPollInterval,
	}
}

// AcquireLock attempts to become the worker for key. owner is the caller's
// correlation id; only the acquirer can release. The TTL bounds how long a
// crashed worker can block others.
func (c *Coalescer) AcquireLock(ctx context.Context, key, owner string) (bool, error) {
	ok, err := c.store.SetNX(ctx, c.keys.CoalesceLock(key), owner, c.LockTTL)
	if err != nil {
		return false, err
	}
	if ok {
		c.log.Debug("coalesce lock acquired", zap.String("key", key), zap.String("owner", owner))
	}
	return ok, nil
}

// ReleaseLock deletes the lock only while owner still holds it. A lock that
// expired and was re-acquired by someone else is left alone.
func (c *Coalescer) ReleaseLock(ctx context.Context, key, owner string) error {
	lockKey := c.keys.CoalesceLock(key)
	val, err := c.store.Get(ctx, lockKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if val != owner {
		c.log.Debug("skipping release of reassigned lock",
			zap.String("key", key), zap.String("owner", owner), zap.String("holder", val))
		return nil
	}
	return c.store.Del(ctx, lockKey)
}

// WaitForResult polls probe until it reports a hit. probe returns found=true
// when the result cache has been populated by the lock holder. Returns
// ErrTimeout after the configured attempts, or the context error if the
// caller gives up first.
func (c *Coalescer) WaitForResult(ctx context.Context, key string, probe func(context.Context) (bool, error)) error {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for i := 0; i < attempts; i++ {
		found, err := probe(ctx)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	c.log.Debug("coalesce wait exhausted", zap.String("key", key), zap.Int("attempts", attempts))
	return ErrTimeout
}
