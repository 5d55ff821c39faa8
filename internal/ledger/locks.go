package ledger

import (
	"context"
	"sync"
)

// lockTable hands out one exclusive lock per product. Locks are
// channel-based so acquisition can be bounded by a context deadline.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (t *lockTable) lock(productID string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.locks[productID]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[productID] = ch
	}
	return ch
}

// acquire blocks until the product's lock is held or ctx is done
func (t *lockTable) acquire(ctx context.Context, productID string) error {
	ch := t.lock(productID)
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees the product's lock; the caller must hold it
func (t *lockTable) release(productID string) {
	<-t.lock(productID)
}
