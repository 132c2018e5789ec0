package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
)

// lockTable hands out one binary semaphore per entity key. Acquisition is
// bounded; a wait that exceeds the bound surfaces domain.ErrContention so
// the caller can retry the whole transaction.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (lt *lockTable) sem(key string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.locks[key] = ch
	}
	return ch
}

func (lt *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := lt.sem(key)

	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("lock %s not acquired within %s: %w", key, timeout, domain.ErrContention)
	case <-ctx.Done():
		return fmt.Errorf("lock %s: %w: %w", key, ctx.Err(), domain.ErrContention)
	}
}

func (lt *lockTable) release(key string) {
	<-lt.sem(key)
}
