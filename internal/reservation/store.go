package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
)

// Store persists reservation records. It is owned exclusively by the
// Manager; rows are never deleted, terminal rows remain as an audit trail.
type Store struct {
	db *sql.DB
}

// NewStore creates a new reservation store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes a new reservation row inside tx
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, r *domain.Reservation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reservations (reservation_id, order_id, product_id, quantity, status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OrderID, r.ProductID, r.Quantity, string(r.Status), r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to insert reservation", err)
	}
	return nil
}

// FindByOrderID returns every line reservation of an order
func (s *Store) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reservation_id, order_id, product_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE order_id = ?
		ORDER BY product_id ASC
	`, orderID)
	if err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to query reservations", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// FindExpired returns PENDING reservations whose deadline has passed
func (s *Store) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reservation_id, order_id, product_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?
	`, string(domain.ReservationStatusPending), now, limit)
	if err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to query expired reservations", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// Transition moves a reservation out of PENDING inside tx. The guarded
// update makes racing transitions (confirm vs cancel vs sweep) resolve to
// exactly one winner; the return value reports whether this call won.
func (s *Store) Transition(ctx context.Context, tx *sql.Tx, reservationID string, next domain.ReservationStatus, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, updated_at = ?
		WHERE reservation_id = ? AND status = ?
	`, string(next), now, reservationID, string(domain.ReservationStatusPending))
	if err != nil {
		return false, errors.NewInternal("STORAGE_ERROR", "failed to transition reservation", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewInternal("STORAGE_ERROR", "failed to read affected rows", err)
	}
	return affected == 1, nil
}

// Get returns a single reservation by id
func (s *Store) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT reservation_id, order_id, product_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE reservation_id = ?
	`, reservationID)

	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("RESERVATION_NOT_FOUND", fmt.Sprintf("unknown reservation %s", reservationID))
	}
	if err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to read reservation", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var r domain.Reservation
	var status string
	err := row.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.Quantity, &status,
		&r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = domain.ReservationStatus(status)
	return &r, nil
}

func scanReservations(rows *sql.Rows) ([]*domain.Reservation, error) {
	reservations := make([]*domain.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, errors.NewInternal("STORAGE_ERROR", "failed to scan reservation", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to iterate reservations", err)
	}
	return reservations, nil
}
