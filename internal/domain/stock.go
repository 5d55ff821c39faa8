package domain

import (
	"fmt"
	"time"
)

// StockItem tracks the total and reserved unit counts for one product.
// Counters are mutated only through the ledger's lock-scoped operations.
type StockItem struct {
	ProductID        string
	Quantity         int64
	ReservedQuantity int64
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewStockItem creates a new stock item
func NewStockItem(productID string, quantity int64) (*StockItem, error) {
	if productID == "" {
		return nil, fmt.Errorf("product ID cannot be empty")
	}
	if quantity < 0 {
		return nil, fmt.Errorf("quantity cannot be negative")
	}

	now := time.Now()
	return &StockItem{
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AvailableQuantity returns the units that can still be reserved
func (s *StockItem) AvailableQuantity() int64 {
	return s.Quantity - s.ReservedQuantity
}

// CanReserve checks whether quantity more units can be held
func (s *StockItem) CanReserve(quantity int64) bool {
	return s.AvailableQuantity() >= quantity
}

// CheckDelta validates that adding delta to ReservedQuantity keeps
// 0 <= reservedQuantity <= quantity. A violation means the caller skipped
// the availability check under lock; it is never a valid end state.
func (s *StockItem) CheckDelta(delta int64) error {
	next := s.ReservedQuantity + delta
	if next < 0 {
		return fmt.Errorf("reserved quantity for %s would go negative (%d%+d)", s.ProductID, s.ReservedQuantity, delta)
	}
	if next > s.Quantity {
		return fmt.Errorf("reserved quantity for %s would exceed stock (%d%+d > %d)", s.ProductID, s.ReservedQuantity, delta, s.Quantity)
	}
	return nil
}
