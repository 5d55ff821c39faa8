package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/infrastructure/storage"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
)

func newTestLedger(t *testing.T, lockTimeout time.Duration) (*Ledger, *sql.DB) {
	t.Helper()

	db, err := storage.Open(&config.StorageConfig{
		SQLiteFile:    t.TempDir() + "/test.db",
		MaxConnection: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(&config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"})
	return New(db, lockTimeout, logger, nil), db
}

func seedItem(t *testing.T, l *Ledger, productID string, quantity int64) {
	t.Helper()
	item, err := domain.NewStockItem(productID, quantity)
	require.NoError(t, err)
	require.NoError(t, l.CreateItem(context.Background(), item))
}

func TestLedger_LockAndRead(t *testing.T) {
	l, _ := newTestLedger(t, time.Second)
	seedItem(t, l, "P1", 10)
	seedItem(t, l, "P2", 5)

	hold, items, err := l.LockAndRead(context.Background(), []string{"P2", "P1", "P2"})
	require.NoError(t, err)
	defer hold.Release()

	assert.Len(t, items, 2)
	assert.Equal(t, int64(10), items["P1"].Quantity)
	assert.Equal(t, int64(5), items["P2"].Quantity)
	assert.True(t, hold.Covers("P1"))
	assert.True(t, hold.Covers("P2"))
	assert.False(t, hold.Covers("P3"))
}

func TestLedger_LockAndRead_NotFound(t *testing.T) {
	l, _ := newTestLedger(t, time.Second)
	seedItem(t, l, "P1", 10)

	_, _, err := l.LockAndRead(context.Background(), []string{"P1", "missing"})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	// The failed call must not retain any lock
	hold, _, err := l.LockAndRead(context.Background(), []string{"P1"})
	require.NoError(t, err)
	hold.Release()
}

func TestLedger_LockTimeout(t *testing.T) {
	l, _ := newTestLedger(t, 50*time.Millisecond)
	seedItem(t, l, "P1", 10)

	hold, _, err := l.LockAndRead(context.Background(), []string{"P1"})
	require.NoError(t, err)

	_, _, err = l.LockAndRead(context.Background(), []string{"P1"})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))

	hold.Release()

	// And no partial state: the lock is reacquirable after release
	hold2, _, err := l.LockAndRead(context.Background(), []string{"P1"})
	require.NoError(t, err)
	hold2.Release()
}

func TestLedger_DeadlockFreedom(t *testing.T) {
	l, _ := newTestLedger(t, 5*time.Second)
	seedItem(t, l, "A", 100)
	seedItem(t, l, "B", 100)

	// Two workers repeatedly lock the same two products in opposite
	// caller order. Canonical ordering means neither can block forever.
	var wg sync.WaitGroup
	orders := [][]string{{"A", "B"}, {"B", "A"}}
	for _, ids := range orders {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hold, _, err := l.LockAndRead(context.Background(), ids)
				assert.NoError(t, err)
				hold.Release()
			}
		}(ids)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("workers blocked, lock ordering is not deadlock-free")
	}
}

func TestLedger_ApplyDelta(t *testing.T) {
	l, db := newTestLedger(t, time.Second)
	seedItem(t, l, "P1", 10)

	ctx := context.Background()
	hold, items, err := l.LockAndRead(ctx, []string{"P1"})
	require.NoError(t, err)
	defer hold.Release()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, l.ApplyDelta(ctx, tx, hold, items["P1"], 7))
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(7), items["P1"].ReservedQuantity)
	assert.Equal(t, int64(1), items["P1"].Version)

	stored, err := l.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.ReservedQuantity)
	assert.Equal(t, int64(3), stored.AvailableQuantity())
}

func TestLedger_ApplyDelta_InvariantViolation(t *testing.T) {
	l, db := newTestLedger(t, time.Second)
	seedItem(t, l, "P1", 10)

	ctx := context.Background()
	hold, items, err := l.LockAndRead(ctx, []string{"P1"})
	require.NoError(t, err)
	defer hold.Release()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	err = l.ApplyDelta(ctx, tx, hold, items["P1"], 11)
	assert.True(t, errors.IsInvariantViolation(err), "oversell must be a hard failure")

	err = l.ApplyDelta(ctx, tx, hold, items["P1"], -1)
	assert.True(t, errors.IsInvariantViolation(err), "negative reserved must be a hard failure")

	// Failed deltas leave the snapshot untouched
	assert.Equal(t, int64(0), items["P1"].ReservedQuantity)
}

func TestLedger_ApplyDelta_RequiresHold(t *testing.T) {
	l, db := newTestLedger(t, time.Second)
	seedItem(t, l, "P1", 10)
	seedItem(t, l, "P2", 10)

	ctx := context.Background()
	hold, _, err := l.LockAndRead(ctx, []string{"P1"})
	require.NoError(t, err)
	defer hold.Release()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	other := &domain.StockItem{ProductID: "P2", Quantity: 10}
	err = l.ApplyDelta(ctx, tx, hold, other, 1)
	assert.True(t, errors.IsInvariantViolation(err), "mutation outside the hold must be rejected")
}

func TestLedger_AdjustQuantity(t *testing.T) {
	l, db := newTestLedger(t, time.Second)
	seedItem(t, l, "P1", 10)

	ctx := context.Background()

	// Hold 7 units, then shrink total stock below the holds. The transient
	// negative availability is surfaced, not clamped.
	hold, items, err := l.LockAndRead(ctx, []string{"P1"})
	require.NoError(t, err)
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, l.ApplyDelta(ctx, tx, hold, items["P1"], 7))
	require.NoError(t, tx.Commit())
	hold.Release()

	item, err := l.AdjustQuantity(ctx, "P1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), item.Quantity)
	assert.Equal(t, int64(7), item.ReservedQuantity)
	assert.Equal(t, int64(-2), item.AvailableQuantity())

	_, err = l.AdjustQuantity(ctx, "P1", -1)
	assert.True(t, errors.IsInvariantViolation(err))

	_, err = l.AdjustQuantity(ctx, "missing", 5)
	assert.True(t, errors.IsNotFound(err))
}

func TestLedger_ConcurrentDeltas_TotallyOrdered(t *testing.T) {
	l, db := newTestLedger(t, 5*time.Second)
	seedItem(t, l, "P1", 100)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hold, items, err := l.LockAndRead(ctx, []string{"P1"})
			if !assert.NoError(t, err) {
				return
			}
			defer hold.Release()

			tx, err := db.BeginTx(ctx, nil)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.NoError(t, l.ApplyDelta(ctx, tx, hold, items["P1"], 1)) {
				tx.Rollback()
				return
			}
			assert.NoError(t, tx.Commit())
		}()
	}
	wg.Wait()

	item, err := l.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), item.ReservedQuantity)
	assert.GreaterOrEqual(t, item.Quantity, item.ReservedQuantity)
}
