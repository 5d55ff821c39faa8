package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
)

// Ledger is the sole writer of per-product stock counters. Every mutation
// of reservedQuantity happens under the product's exclusive lock, and
// multi-product acquisitions always proceed in ascending productId order
// so overlapping requests cannot deadlock.
type Ledger struct {
	db          *sql.DB
	locks       *lockTable
	lockTimeout time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// New creates a new stock ledger over the given database
func New(db *sql.DB, lockTimeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		db:          db,
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Hold represents exclusive possession of a set of product rows. It must be
// released when the enclosing unit of work completes or aborts, and never
// survives across an external call.
type Hold struct {
	ledger     *Ledger
	productIDs []string
	released   bool
}

// Covers reports whether the hold includes the given product
func (h *Hold) Covers(productID string) bool {
	for _, id := range h.productIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Release frees every lock in the hold. Safe to call more than once.
func (h *Hold) Release() {
	if h.released {
		return
	}
	h.released = true
	for _, id := range h.productIDs {
		h.ledger.locks.release(id)
	}
}

// LockAndRead acquires an exclusive hold on each named product's row in
// canonical order and returns a snapshot of the rows. Acquisition is bounded
// by the configured lock timeout; on timeout no lock is retained. Unknown
// products fail with NotFound.
func (l *Ledger) LockAndRead(ctx context.Context, productIDs []string) (*Hold, map[string]*domain.StockItem, error) {
	ids := canonicalOrder(productIDs)
	if len(ids) == 0 {
		return nil, nil, errors.NewInvariantViolation("EMPTY_PRODUCT_SET", "at least one product is required")
	}

	start := l.now()
	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	acquired := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := l.locks.acquire(lockCtx, id); err != nil {
			for _, held := range acquired {
				l.locks.release(held)
			}
			l.metrics.RecordLockTimeout()
			return nil, nil, errors.NewTimeout("LOCK_TIMEOUT",
				fmt.Sprintf("could not lock product %s within %s", id, l.lockTimeout), err)
		}
		acquired = append(acquired, id)
	}
	l.metrics.RecordLockWait(l.now().Sub(start))

	hold := &Hold{ledger: l, productIDs: ids}

	items, err := l.readItems(ctx, ids)
	if err != nil {
		hold.Release()
		return nil, nil, err
	}

	return hold, items, nil
}

// ApplyDelta adds delta to the product's reservedQuantity inside tx. The
// caller must have the product locked through hold and must have validated
// feasibility under the same lock; a result outside [0, quantity] aborts
// with InvariantViolation.
func (l *Ledger) ApplyDelta(ctx context.Context, tx *sql.Tx, hold *Hold, item *domain.StockItem, delta int64) error {
	if hold == nil || hold.released || !hold.Covers(item.ProductID) {
		return errors.NewInvariantViolation("UNLOCKED_MUTATION",
			fmt.Sprintf("product %s is not covered by the current hold", item.ProductID))
	}
	if err := item.CheckDelta(delta); err != nil {
		return errors.NewInvariantViolation("STOCK_INVARIANT", err.Error())
	}

	now := l.now()
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET reserved_quantity = reserved_quantity + ?,
		    version = version + 1,
		    updated_at = ?
		WHERE product_id = ?
		  AND reserved_quantity + ? >= 0
		  AND reserved_quantity + ? <= quantity
	`, delta, now, item.ProductID, delta, delta)
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to apply stock delta", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to read affected rows", err)
	}
	if affected == 0 {
		// The lock serializes all writers, so the snapshot cannot be stale;
		// reaching here means the guard caught a programming error.
		return errors.NewInvariantViolation("STOCK_INVARIANT",
			fmt.Sprintf("stock row %s rejected delta %+d", item.ProductID, delta))
	}

	item.ReservedQuantity += delta
	item.Version++
	item.UpdatedAt = now
	return nil
}

// AdjustQuantity administratively changes the total stock of a product.
// Reserved quantity is untouched; the resulting available quantity may be
// transiently negative and is surfaced to the operator, not clamped.
func (l *Ledger) AdjustQuantity(ctx context.Context, productID string, newQuantity int64) (*domain.StockItem, error) {
	if newQuantity < 0 {
		return nil, errors.NewInvariantViolation("NEGATIVE_QUANTITY", "total quantity cannot be negative")
	}

	hold, items, err := l.LockAndRead(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	defer hold.Release()

	item := items[productID]
	now := l.now()
	_, err = l.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET quantity = ?, version = version + 1, updated_at = ?
		WHERE product_id = ?
	`, newQuantity, now, productID)
	if err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to adjust quantity", err)
	}

	item.Quantity = newQuantity
	item.Version++
	item.UpdatedAt = now

	if item.AvailableQuantity() < 0 {
		l.logger.WithProductID(productID).Warn().
			Int64("quantity", item.Quantity).
			Int64("reserved_quantity", item.ReservedQuantity).
			Msg("quantity adjusted below reserved holds, oversell risk until holds resolve")
	}

	return item, nil
}

// Get returns the current stock row without taking the product lock
func (l *Ledger) Get(ctx context.Context, productID string) (*domain.StockItem, error) {
	items, err := l.readItems(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	return items[productID], nil
}

// CreateItem onboards a new product row. Administrative use only.
func (l *Ledger) CreateItem(ctx context.Context, item *domain.StockItem) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO inventory_items (product_id, quantity, reserved_quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ProductID, item.Quantity, item.ReservedQuantity, item.Version, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to create stock item", err)
	}
	return nil
}

// readItems loads the named rows and fails with NotFound if any is missing
func (l *Ledger) readItems(ctx context.Context, ids []string) (map[string]*domain.StockItem, error) {
	items := make(map[string]*domain.StockItem, len(ids))
	for _, id := range ids {
		var item domain.StockItem
		err := l.db.QueryRowContext(ctx, `
			SELECT product_id, quantity, reserved_quantity, version, created_at, updated_at
			FROM inventory_items
			WHERE product_id = ?
		`, id).Scan(&item.ProductID, &item.Quantity, &item.ReservedQuantity,
			&item.Version, &item.CreatedAt, &item.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("PRODUCT_NOT_FOUND", fmt.Sprintf("unknown product %s", id))
		}
		if err != nil {
			return nil, errors.NewInternal("STORAGE_ERROR", "failed to read stock item", err)
		}
		items[id] = &item
	}
	return items, nil
}

// canonicalOrder deduplicates and sorts product ids ascending. Every
// multi-product acquisition uses this order; it is the deadlock-avoidance
// contract.
func canonicalOrder(productIDs []string) []string {
	seen := make(map[string]struct{}, len(productIDs))
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
