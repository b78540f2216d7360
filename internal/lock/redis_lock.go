package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

// Redis shares a lock across every process pointed at the same Redis.
type Redis struct {
	client  *redislock.Client
	backoff time.Duration
	retries int
}

func NewRedis(client redis.UniversalClient, backoff time.Duration, retries int) *Redis {
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	if retries < 0 {
		retries = 0
	}
	return &Redis{client: redislock.New(client), backoff: backoff, retries: retries}
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := r.client.Obtain(ctx, "estanco:lock:"+key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, err
	}
	return redisLock{lock: lock}, nil
}

type redisLock struct {
	lock *redislock.Lock
}

func (l redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
