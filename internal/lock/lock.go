// Package lock serializes short critical sections such as opening and
// closing the cash drawer. The database constraints remain the source of
// truth; a lock only keeps competing callers from racing into them.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotObtained = errors.New("lock not obtained")

type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker. The ttl argument is ignored.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) Obtain(ctx context.Context, key string, _ time.Duration) (Lock, error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return &localLock{slot: slot}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, ctx.Err())
	}
}

type localLock struct {
	once sync.Once
	slot chan struct{}
}

func (l *localLock) Release(_ context.Context) error {
	l.once.Do(func() { <-l.slot })
	return nil
}
