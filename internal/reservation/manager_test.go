package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/events"
	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/infrastructure/storage"
	"github.com/Youmanvi/stockledger/internal/ledger"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
)

type managerFixture struct {
	manager   *Manager
	ledger    *ledger.Ledger
	store     *Store
	publisher *events.MockPublisher
	db        *sql.DB
	clock     *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	db, err := storage.Open(&config.StorageConfig{
		SQLiteFile:    t.TempDir() + "/test.db",
		MaxConnection: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(&config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"})
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}
	publisher := events.NewMockPublisher()

	lg := ledger.New(db, 5*time.Second, logger, nil)
	store := NewStore(db)
	manager := NewManager(db, lg, store, publisher, logger, nil, 15*time.Minute)
	manager.now = clock.Now

	return &managerFixture{
		manager:   manager,
		ledger:    lg,
		store:     store,
		publisher: publisher,
		db:        db,
		clock:     clock,
	}
}

func (f *managerFixture) seed(t *testing.T, productID string, quantity int64) {
	t.Helper()
	item, err := domain.NewStockItem(productID, quantity)
	require.NoError(t, err)
	require.NoError(t, f.ledger.CreateItem(context.Background(), item))
}

func (f *managerFixture) reserved(t *testing.T, productID string) int64 {
	t.Helper()
	item, err := f.ledger.Get(context.Background(), productID)
	require.NoError(t, err)
	return item.ReservedQuantity
}

func TestManager_Reserve(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	reservations, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, domain.ReservationStatusPending, reservations[0].Status)
	assert.Equal(t, int64(7), reservations[0].Quantity)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), reservations[0].ExpiresAt)
	assert.Equal(t, int64(7), f.reserved(t, "P1"))

	evts := f.publisher.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, domain.ReservationStatusPending, evts[0].Status)
	assert.True(t, evts[0].Lines[0].Available)
}

func TestManager_Reserve_Rejected(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err)

	// Only 3 left; 5 is a definitive rejection, not a partial hold
	reservations, err := f.manager.Reserve(ctx, "order-2", map[string]int64{"P1": 5})
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
	require.Len(t, reservations, 1)
	assert.Equal(t, domain.ReservationStatusCancelled, reservations[0].Status)
	assert.Equal(t, int64(7), f.reserved(t, "P1"), "rejected request must not move the counter")

	evts := f.publisher.Events()
	require.Len(t, evts, 2)
	assert.Equal(t, domain.ReservationStatusCancelled, evts[1].Status)
	assert.False(t, evts[1].Lines[0].Available)
}

func TestManager_Reserve_AllOrNothing(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	f.seed(t, "P2", 1)
	ctx := context.Background()

	reservations, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 2, "P2": 5})
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
	require.Len(t, reservations, 2)
	for _, r := range reservations {
		assert.Equal(t, domain.ReservationStatusCancelled, r.Status)
	}

	// Zero net change for either product, including the satisfiable line
	assert.Equal(t, int64(0), f.reserved(t, "P1"))
	assert.Equal(t, int64(0), f.reserved(t, "P2"))

	evts := f.publisher.Events()
	require.Len(t, evts, 1)
	for _, line := range evts[0].Lines {
		if line.ProductID == "P1" {
			assert.True(t, line.Available)
		} else {
			assert.False(t, line.Available)
		}
	}
}

func TestManager_Reserve_Validation(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	_, err := f.manager.Reserve(ctx, "", map[string]int64{"P1": 1})
	assert.Error(t, err)

	_, err = f.manager.Reserve(ctx, "order-1", nil)
	assert.Error(t, err)

	_, err = f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 0})
	assert.Error(t, err)

	_, err = f.manager.Reserve(ctx, "order-1", map[string]int64{"missing": 1})
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, int64(0), f.reserved(t, "P1"))
}

func TestManager_Confirm(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err)

	require.NoError(t, f.manager.Confirm(ctx, "order-1"))

	// The hold still counts; confirm changes no counter
	assert.Equal(t, int64(7), f.reserved(t, "P1"))

	rs, err := f.store.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusConfirmed, rs[0].Status)

	// Terminal states reject further confirms
	err = f.manager.Confirm(ctx, "order-1")
	assert.True(t, errors.IsInvalidTransition(err))

	err = f.manager.Confirm(ctx, "no-such-order")
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_Confirm_AfterRejectedRetry(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	// The first attempt overshoots and leaves a CANCELLED audit line under
	// the same order; the reduced retry succeeds and must stay confirmable.
	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 50})
	require.Error(t, err)
	assert.True(t, errors.IsUnavailable(err))
	assert.Equal(t, int64(0), f.reserved(t, "P1"))

	_, err = f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 3})
	require.NoError(t, err)
	require.Equal(t, int64(3), f.reserved(t, "P1"))

	require.NoError(t, f.manager.Confirm(ctx, "order-1"))
	assert.Equal(t, int64(3), f.reserved(t, "P1"))

	rs, err := f.store.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	statuses := map[domain.ReservationStatus]int{}
	for _, r := range rs {
		statuses[r.Status]++
	}
	assert.Equal(t, 1, statuses[domain.ReservationStatusCancelled], "audit line must stay cancelled")
	assert.Equal(t, 1, statuses[domain.ReservationStatusConfirmed])
}

func TestManager_Confirm_RejectedOnlyOrder(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	// An order that only ever got rejected holds nothing to confirm
	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 50})
	require.Error(t, err)

	err = f.manager.Confirm(ctx, "order-1")
	assert.True(t, errors.IsInvalidTransition(err))
	assert.Equal(t, int64(0), f.reserved(t, "P1"))
}

func TestManager_Cancel(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err)
	require.Equal(t, int64(7), f.reserved(t, "P1"))

	require.NoError(t, f.manager.Cancel(ctx, "order-1"))
	assert.Equal(t, int64(0), f.reserved(t, "P1"))

	rs, err := f.store.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCancelled, rs[0].Status)

	// Idempotent: the second cancel succeeds and releases nothing
	require.NoError(t, f.manager.Cancel(ctx, "order-1"))
	assert.Equal(t, int64(0), f.reserved(t, "P1"))

	err = f.manager.Cancel(ctx, "no-such-order")
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_Cancel_ConfirmedNotSupported(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err)
	require.NoError(t, f.manager.Confirm(ctx, "order-1"))

	err = f.manager.Cancel(ctx, "order-1")
	assert.True(t, errors.IsInvalidTransition(err))
	assert.Equal(t, int64(7), f.reserved(t, "P1"), "confirmed hold must stay counted")
}

func TestManager_ExpireDue(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err)

	// 14 minutes in: not yet due
	f.clock.Advance(14 * time.Minute)
	expired, failed := f.manager.ExpireDue(ctx)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int64(7), f.reserved(t, "P1"))

	// 16 minutes in: the hold is reclaimed exactly once
	f.clock.Advance(2 * time.Minute)
	expired, failed = f.manager.ExpireDue(ctx)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int64(0), f.reserved(t, "P1"))

	rs, err := f.store.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, rs[0].Status)

	// A later sweep finds nothing to do
	expired, failed = f.manager.ExpireDue(ctx)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int64(0), f.reserved(t, "P1"))
}

func TestManager_ExpiryVersusConfirm(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	// Confirm wins: the sweep excludes the no-longer-PENDING row
	_, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 3})
	require.NoError(t, err)
	require.NoError(t, f.manager.Confirm(ctx, "order-1"))

	f.clock.Advance(16 * time.Minute)
	expired, _ := f.manager.ExpireDue(ctx)
	assert.Equal(t, 0, expired)
	assert.Equal(t, int64(3), f.reserved(t, "P1"), "confirmed hold must not be released")

	// Expiry wins: the late confirm observes InvalidTransition
	_, err = f.manager.Reserve(ctx, "order-2", map[string]int64{"P1": 4})
	require.NoError(t, err)
	f.clock.Advance(16 * time.Minute)
	expired, _ = f.manager.ExpireDue(ctx)
	assert.Equal(t, 1, expired)

	err = f.manager.Confirm(ctx, "order-2")
	assert.True(t, errors.IsInvalidTransition(err))
	assert.Equal(t, int64(3), f.reserved(t, "P1"))
}

func TestManager_PublishFailureDoesNotUnwind(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	f.publisher.FailWith(errors.NewDelivery("EVENT_PUBLISH_FAILED", "broker down", nil))

	reservations, err := f.manager.Reserve(ctx, "order-1", map[string]int64{"P1": 7})
	require.NoError(t, err, "delivery failure must not fail the transition")
	assert.Equal(t, domain.ReservationStatusPending, reservations[0].Status)
	assert.Equal(t, int64(7), f.reserved(t, "P1"))
}

func TestManager_ConcurrentReserve_LastUnit(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 10)
	ctx := context.Background()

	// Two orders race for overlapping stock; the lock totally orders them
	// and exactly one wins.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.manager.Reserve(ctx, fmt.Sprintf("order-%d", i), map[string]int64{"P1": 7})
		}(i)
	}
	wg.Wait()

	var wins, rejects int
	for _, err := range results {
		if err == nil {
			wins++
		} else if errors.IsUnavailable(err) {
			rejects++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, rejects)
	assert.Equal(t, int64(7), f.reserved(t, "P1"))
}

func TestManager_InvariantUnderConcurrency(t *testing.T) {
	f := newManagerFixture(t)
	f.seed(t, "P1", 20)
	f.seed(t, "P2", 20)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			orderID := fmt.Sprintf("order-%d", i)
			_, err := f.manager.Reserve(ctx, orderID, map[string]int64{"P1": 3, "P2": 3})
			if err != nil {
				return
			}
			if i%2 == 0 {
				_ = f.manager.Cancel(ctx, orderID)
			} else {
				_ = f.manager.Confirm(ctx, orderID)
			}
		}(i)
	}
	wg.Wait()

	for _, productID := range []string{"P1", "P2"} {
		item, err := f.ledger.Get(ctx, productID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, item.ReservedQuantity, int64(0))
		assert.LessOrEqual(t, item.ReservedQuantity, item.Quantity)
	}
}
