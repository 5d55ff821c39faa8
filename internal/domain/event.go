package domain

import "time"

// ReservationEventLine describes one product line of a lifecycle event
type ReservationEventLine struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Available bool   `json:"available"`
}

// ReservationEvent is the immutable lifecycle notification emitted once per
// completed reservation transition, after the transition is durably committed
type ReservationEvent struct {
	OrderID   string                 `json:"orderId"`
	Status    ReservationStatus      `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Lines     []ReservationEventLine `json:"lines"`
}

// NewReservationEvent builds a lifecycle event for an order transition
func NewReservationEvent(orderID string, status ReservationStatus, now time.Time, lines []ReservationEventLine) *ReservationEvent {
	return &ReservationEvent{
		OrderID:   orderID,
		Status:    status,
		Timestamp: now,
		Lines:     lines,
	}
}
