package domain

import (
	"fmt"
	"time"
)

// ReservationStatus represents the status of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition may leave the status.
// CONFIRMED is terminal for this service; compensating a confirmed hold
// is the order/payment collaborators' concern.
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationStatusPending
}

// Reservation is one held line of an order. An order may have multiple
// line reservations, one per product. Records are never deleted; terminal
// rows remain as an audit trail.
type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int64
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewReservation creates a new line reservation in the given initial status.
// A PENDING reservation holds stock until expiresAt; a CANCELLED one records
// a rejected line and holds nothing.
func NewReservation(id, orderID, productID string, quantity int64, status ReservationStatus, now time.Time, holdFor time.Duration) (*Reservation, error) {
	if id == "" {
		return nil, fmt.Errorf("reservation ID cannot be empty")
	}
	if orderID == "" {
		return nil, fmt.Errorf("order ID cannot be empty")
	}
	if productID == "" {
		return nil, fmt.Errorf("product ID cannot be empty")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be greater than zero")
	}

	return &Reservation{
		ID:        id,
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    status,
		ExpiresAt: now.Add(holdFor),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanTransitionTo reports whether the state machine permits moving to next.
// The only legal transitions are PENDING -> CONFIRMED | CANCELLED | EXPIRED.
func (r *Reservation) CanTransitionTo(next ReservationStatus) bool {
	if r.Status != ReservationStatusPending {
		return false
	}
	switch next {
	case ReservationStatusConfirmed, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	default:
		return false
	}
}

// IsExpired reports whether an unconfirmed hold is past its deadline
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationStatusPending && !now.Before(r.ExpiresAt)
}
