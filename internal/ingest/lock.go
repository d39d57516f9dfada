package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by AcquireLock when another process already
// holds the per-account fetch lock, per spec.md §5's single-instance
// execution guarantee.
var ErrLockHeld = errors.New("ingest: fetch lock already held")

// AdvisoryLock enforces single-instance execution of the fetch loop for
// one account across multiple gateway processes with a `redis` `SET NX
// PX` lock.
type AdvisoryLock struct {
	client *redis.Client
	ttl    time.Duration
	token  string
}

// NewAdvisoryLock wraps an already-configured Redis client.
func NewAdvisoryLock(client *redis.Client, ttl time.Duration, processToken string) *AdvisoryLock {
	return &AdvisoryLock{client: client, ttl: ttl, token: processToken}
}

func lockKey(accountIBAN string) string {
	return fmt.Sprintf("nexus:fetch-lock:%s", accountIBAN)
}

// Acquire attempts to take the lock for accountIBAN, returning
// ErrLockHeld if another process currently holds it.
func (l *AdvisoryLock) Acquire(ctx context.Context, accountIBAN string) error {
	ok, err := l.client.SetNX(ctx, lockKey(accountIBAN), l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("ingest: acquire fetch lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock, but only if this process still holds it
// (guards against releasing a lock a different process has since
// acquired after this one's TTL expired).
func (l *AdvisoryLock) Release(ctx context.Context, accountIBAN string) error {
	held, err := l.client.Get(ctx, lockKey(accountIBAN)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: check fetch lock owner: %w", err)
	}
	if held != l.token {
		return nil
	}
	return l.client.Del(ctx, lockKey(accountIBAN)).Err()
}

// Refresh extends the lock's TTL, called periodically by a long-running
// fetch cycle to avoid losing the lock mid-cycle.
func (l *AdvisoryLock) Refresh(ctx context.Context, accountIBAN string) error {
	ok, err := l.client.Expire(ctx, lockKey(accountIBAN), l.ttl).Result()
	if err != nil {
		return fmt.Errorf("ingest: refresh fetch lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}
