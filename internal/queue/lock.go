package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flipper1994/discovery-engine/internal/cache"
	"github.com/flipper1994/discovery-engine/internal/errs"
)

// lockStore is the subset of cache.Store the strategy lock depends on.
type lockStore interface {
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// StrategyLock is the distributed single-writer lock named in spec.md §5:
// acquired via atomic set-if-absent with a TTL of jobTimeout+margin, and
// refreshed periodically by its holder. A holder that cannot refresh must
// abort its run rather than assume it still holds the lock.
type StrategyLock struct {
	store    lockStore
	strategy string
	token    string
	ttl      time.Duration
}

// margin added to the job timeout for the lock's TTL, so a slow-but-alive
// holder is not evicted by its own refresh cadence.
const lockMargin = 30 * time.Second

// AcquireLock attempts to take the lock for strategy. Returns
// (nil, errs.KindLockContended) if another run already holds it.
func AcquireLock(ctx context.Context, store lockStore, strategy string, jobTimeout time.Duration) (*StrategyLock, error) {
	l := &StrategyLock{
		store:    store,
		strategy: strategy,
		token:    uuid.NewString(),
		ttl:      jobTimeout + lockMargin,
	}
	ok, err := store.SetIfAbsent(ctx, cache.LockKey(strategy), []byte(l.token), l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindLockContended, "discovery run already in progress for "+strategy)
	}
	return l, nil
}

// Refresh extends the lock's TTL. The caller must abort its run if this
// returns an error, per spec.md §5's "cannot refresh" rule.
func (l *StrategyLock) Refresh(ctx context.Context) error {
	if err := l.store.Expire(ctx, cache.LockKey(l.strategy), l.ttl); err != nil {
		return err
	}
	return nil
}

// Release drops the lock. Best-effort: callers should not treat a
// release failure as fatal since the TTL will eventually expire it.
func (l *StrategyLock) Release(ctx context.Context) error {
	return l.store.Del(ctx, cache.LockKey(l.strategy))
}

// RunRefresher starts a goroutine that refreshes the lock every interval
// until ctx is canceled or a refresh fails, in which case it sends on
// failed and returns. Grounded on the teacher's startDailyUpdateScheduler
// goroutine-with-select pattern.
func (l *StrategyLock) RunRefresher(ctx context.Context, interval time.Duration, failed chan<- error) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx); err != nil {
					select {
					case failed <- err:
					default:
					}
					return
				}
			}
		}
	}()
}
