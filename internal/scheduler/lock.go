package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKey = "popup-events:tick-lock"
	lockTTL = 2 * time.Minute
)

// TickLock is a Redis-backed single-flight guard around Tick. The
// scheduler itself is lock-free; concurrent ticks racing on the same
// event's flags could both observe an unset flag and double-send, so
// every caller (cron, HTTP trigger, manual) must go through the lock.
type TickLock struct {
	client *redis.Client
}

func NewTickLock(client *redis.Client) *TickLock {
	return &TickLock{client: client}
}

// Acquire takes the lock, returning false when another tick holds it.
// The TTL keeps a crashed holder from wedging the lock forever.
func (l *TickLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, lockKey, time.Now().UTC().Format(time.RFC3339), lockTTL).Result()
}

// Release drops the lock.
func (l *TickLock) Release(ctx context.Context) error {
	return l.client.Del(ctx, lockKey).Err()
}
