package infra

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLeaseHeld is returned when another worker instance owns the cycle lease.
var ErrLeaseHeld = errors.New("cycle lease held by another worker")

// ErrLeaseLost is the cancellation cause of a lease context whose refresh failed.
var ErrLeaseLost = errors.New("cycle lease lost")

// CycleLock is a Redis lease that keeps two deployments from running
// overlapping reconciliation cycles against the same ledger. The lease is
// refreshed every ttl/3 while held.
type CycleLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

func NewCycleLock(rdb *redis.Client, key string, ttl time.Duration) *CycleLock {
	if key == "" {
		key = "rig:cycle-lock"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CycleLock{locker: redislock.New(rdb), key: key, ttl: ttl}
}

// Acquire obtains the lease. Work done under it must use the returned
// context, which is cancelled with ErrLeaseLost when a refresh fails. The
// returned func stops refreshing and releases the key; it is safe to call
// after the lease has expired.
func (l *CycleLock) Acquire(ctx context.Context) (context.Context, func(), error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, nil, ErrLeaseHeld
	}
	if err != nil {
		return nil, nil, err
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(leaseCtx, l.ttl, nil); err != nil {
					if leaseCtx.Err() != nil {
						return
					}
					log.Error().Err(err).Str("key", l.key).Msg("lease: refresh failed, cycle stopped")
					cancel(ErrLeaseLost)
					return
				}
			}
		}
	}()

	return leaseCtx, func() {
		cancel(nil)
		<-done
		// release with a fresh context so cancellation of the cycle still frees the key
		_ = lock.Release(context.Background())
	}, nil
}
