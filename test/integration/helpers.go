package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/events"
	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/infrastructure/storage"
	"github.com/Youmanvi/stockledger/internal/ledger"
	"github.com/Youmanvi/stockledger/internal/reservation"
	"github.com/Youmanvi/stockledger/internal/sweeper"
)

// TestHarness wires the full reservation stack against a temporary
// SQLite file and an in-memory event publisher
type TestHarness struct {
	Ledger    *ledger.Ledger
	Store     *reservation.Store
	Manager   *reservation.Manager
	Sweeper   *sweeper.Sweeper
	Publisher *events.MockPublisher
	DBFile    string
}

// NewTestHarness creates a harness with the given hold duration and a
// fast sweep interval
func NewTestHarness(t *testing.T, holdDuration time.Duration) *TestHarness {
	t.Helper()

	dbFile := fmt.Sprintf("%s/stockledger-%d.db", os.TempDir(), time.Now().UnixNano())
	db, err := storage.Open(&config.StorageConfig{
		SQLiteFile:    dbFile,
		MaxConnection: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbFile)
	})

	logger := observability.NewLogger(&config.ObservabilityConfig{
		LogLevel:  "error",
		LogFormat: "text",
	})

	publisher := events.NewMockPublisher()
	lg := ledger.New(db, 5*time.Second, logger, nil)
	store := reservation.NewStore(db)
	manager := reservation.NewManager(db, lg, store, publisher, logger, nil, holdDuration)

	return &TestHarness{
		Ledger:    lg,
		Store:     store,
		Manager:   manager,
		Sweeper:   sweeper.New(manager, 20*time.Millisecond, logger, nil),
		Publisher: publisher,
		DBFile:    dbFile,
	}
}

// Seed onboards a product with the given total quantity
func (h *TestHarness) Seed(t *testing.T, productID string, quantity int64) {
	t.Helper()
	item, err := domain.NewStockItem(productID, quantity)
	require.NoError(t, err)
	require.NoError(t, h.Ledger.CreateItem(context.Background(), item))
}

// Stock returns the current counters for a product
func (h *TestHarness) Stock(t *testing.T, productID string) *domain.StockItem {
	t.Helper()
	item, err := h.Ledger.Get(context.Background(), productID)
	require.NoError(t, err)
	return item
}
