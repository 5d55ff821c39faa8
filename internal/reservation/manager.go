package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/ledger"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
)

var tracer = otel.Tracer("reservation-manager")

// Publisher emits lifecycle events to collaborators. The manager calls it
// after a transition is durably committed and never trusts it to block
// the transition itself.
type Publisher interface {
	Publish(ctx context.Context, event *domain.ReservationEvent) error
}

// Manager drives the reservation state machine. It is the sole writer of
// reservation status and funnels every counter mutation through the ledger.
type Manager struct {
	db           *sql.DB
	ledger       *ledger.Ledger
	store        *Store
	publisher    Publisher
	logger       *observability.Logger
	metrics      *observability.Metrics
	holdDuration time.Duration
	now          func() time.Time
}

// NewManager creates a new reservation manager
func NewManager(db *sql.DB, lg *ledger.Ledger, store *Store, publisher Publisher,
	logger *observability.Logger, metrics *observability.Metrics, holdDuration time.Duration) *Manager {
	return &Manager{
		db:           db,
		ledger:       lg,
		store:        store,
		publisher:    publisher,
		logger:       logger,
		metrics:      metrics,
		holdDuration: holdDuration,
		now:          time.Now,
	}
}

// Reserve attempts to hold stock for every line of an order as a single
// all-or-nothing unit. If every line is satisfiable, one PENDING reservation
// per line is created and the held quantities are added to each product's
// reserved count atomically. If any line is short, every line's reservation
// is recorded as CANCELLED, no counter moves, and the call reports
// Unavailable alongside the records.
func (m *Manager) Reserve(ctx context.Context, orderID string, lines map[string]int64) ([]*domain.Reservation, error) {
	ctx, span := tracer.Start(ctx, "reservation.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("lines", len(lines)))

	if orderID == "" {
		return nil, errors.NewInvariantViolation("MISSING_ORDER_ID", "order ID is required")
	}
	if len(lines) == 0 {
		return nil, errors.NewInvariantViolation("EMPTY_LINES", "at least one line is required")
	}
	productIDs := make([]string, 0, len(lines))
	for productID, qty := range lines {
		if qty <= 0 {
			return nil, errors.NewInvariantViolation("INVALID_QUANTITY",
				fmt.Sprintf("quantity for product %s must be greater than zero", productID))
		}
		productIDs = append(productIDs, productID)
	}

	hold, items, err := m.ledger.LockAndRead(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	defer hold.Release()

	allAvailable := true
	eventLines := make([]domain.ReservationEventLine, 0, len(lines))
	for productID, qty := range lines {
		ok := items[productID].CanReserve(qty)
		if !ok {
			allAvailable = false
		}
		eventLines = append(eventLines, domain.ReservationEventLine{
			ProductID: productID,
			Quantity:  qty,
			Available: ok,
		})
	}

	status := domain.ReservationStatusPending
	if !allAvailable {
		// Nothing is held; the rejected lines are recorded for the audit trail.
		status = domain.ReservationStatusCancelled
	}

	now := m.now()
	reservations := make([]*domain.Reservation, 0, len(lines))
	for productID, qty := range lines {
		r, err := domain.NewReservation(uuid.NewString(), orderID, productID, qty, status, now, m.holdDuration)
		if err != nil {
			return nil, errors.NewInvariantViolation("INVALID_RESERVATION", err.Error())
		}
		reservations = append(reservations, r)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, r := range reservations {
		if err := m.store.Insert(ctx, tx, r); err != nil {
			return nil, err
		}
		if allAvailable {
			if err := m.ledger.ApplyDelta(ctx, tx, hold, items[r.ProductID], r.Quantity); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal("STORAGE_ERROR", "failed to commit reservation", err)
	}

	m.metrics.RecordReserveOutcome(allAvailable, len(reservations))
	hold.Release()
	m.emit(ctx, domain.NewReservationEvent(orderID, status, now, eventLines))

	if !allAvailable {
		m.logger.WithOrderID(orderID).Info().Msg("reserve request rejected, insufficient stock")
		return reservations, errors.NewUnavailable("INSUFFICIENT_STOCK",
			fmt.Sprintf("order %s cannot be fully satisfied", orderID))
	}

	m.logger.WithOrderID(orderID).Info().Int("lines", len(reservations)).Msg("stock reserved")
	return reservations, nil
}

// Confirm moves every PENDING line of the order to CONFIRMED. The held
// quantities already count against stock, so no ledger change occurs.
// CANCELLED audit lines from an earlier rejected attempt are skipped, so a
// retried order confirms its live holds. Fails with NotFound if the order
// has no reservations and with InvalidTransition if no line is PENDING.
func (m *Manager) Confirm(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "reservation.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	reservations, err := m.store.FindByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		return errors.NewNotFound("ORDER_NOT_FOUND", fmt.Sprintf("no reservations for order %s", orderID))
	}

	pending := make([]*domain.Reservation, 0, len(reservations))
	for _, r := range reservations {
		if r.CanTransitionTo(domain.ReservationStatusConfirmed) {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return errors.NewInvalidTransition("NOT_PENDING",
			fmt.Sprintf("order %s has no pending reservations to confirm", orderID))
	}

	now := m.now()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	confirmed := 0
	eventLines := make([]domain.ReservationEventLine, 0, len(pending))
	for _, r := range pending {
		won, err := m.store.Transition(ctx, tx, r.ID, domain.ReservationStatusConfirmed, now)
		if err != nil {
			return err
		}
		if !won {
			// Lost the race to cancel/expiry after the read.
			return errors.NewInvalidTransition("NOT_PENDING",
				fmt.Sprintf("reservation %s for order %s is not pending", r.ID, orderID))
		}
		confirmed++
		eventLines = append(eventLines, domain.ReservationEventLine{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			Available: true,
		})
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to commit confirmation", err)
	}

	m.metrics.RecordConfirm(confirmed)
	m.emit(ctx, domain.NewReservationEvent(orderID, domain.ReservationStatusConfirmed, now, eventLines))
	m.logger.WithOrderID(orderID).Info().Int("lines", confirmed).Msg("reservation confirmed")
	return nil
}

// Cancel releases the order's PENDING holds back to the ledger and marks the
// lines CANCELLED, atomically. Cancelling an already CANCELLED or EXPIRED
// order is a no-op success. Cancelling a CONFIRMED order is not supported;
// compensating a confirmed hold is a saga-level concern of the order and
// payment collaborators.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "reservation.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	reservations, err := m.store.FindByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if len(reservations) == 0 {
		return errors.NewNotFound("ORDER_NOT_FOUND", fmt.Sprintf("no reservations for order %s", orderID))
	}

	pending := make([]*domain.Reservation, 0, len(reservations))
	for _, r := range reservations {
		switch {
		case r.CanTransitionTo(domain.ReservationStatusCancelled):
			pending = append(pending, r)
		case r.Status == domain.ReservationStatusConfirmed:
			return errors.NewInvalidTransition("ALREADY_CONFIRMED",
				fmt.Sprintf("order %s is confirmed, cancellation is a saga-level concern", orderID))
		}
	}
	if len(pending) == 0 {
		// Idempotent: every line already CANCELLED or EXPIRED.
		return nil
	}

	productIDs := make([]string, 0, len(pending))
	for _, r := range pending {
		productIDs = append(productIDs, r.ProductID)
	}

	hold, items, err := m.ledger.LockAndRead(ctx, productIDs)
	if err != nil {
		return err
	}
	defer hold.Release()

	now := m.now()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	cancelled := 0
	eventLines := make([]domain.ReservationEventLine, 0, len(pending))
	for _, r := range pending {
		won, err := m.store.Transition(ctx, tx, r.ID, domain.ReservationStatusCancelled, now)
		if err != nil {
			return err
		}
		if !won {
			// The sweeper expired this line after we read it; its hold is
			// already released, nothing more to do for it.
			continue
		}
		if err := m.ledger.ApplyDelta(ctx, tx, hold, items[r.ProductID], -r.Quantity); err != nil {
			return err
		}
		cancelled++
		eventLines = append(eventLines, domain.ReservationEventLine{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			Available: items[r.ProductID].CanReserve(r.Quantity),
		})
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to commit cancellation", err)
	}

	m.metrics.RecordCancel(cancelled)
	hold.Release()
	if cancelled > 0 {
		m.emit(ctx, domain.NewReservationEvent(orderID, domain.ReservationStatusCancelled, now, eventLines))
	}
	m.logger.WithOrderID(orderID).Info().Int("lines", cancelled).Msg("reservation cancelled")
	return nil
}

// ExpireDue finds every PENDING reservation past its deadline and drives it
// through the same release path as an explicit cancel, transitioning to
// EXPIRED. Each reservation is its own atomic unit; a failure on one is
// logged and skipped so it cannot block the others.
func (m *Manager) ExpireDue(ctx context.Context) (expired, failed int) {
	ctx, span := tracer.Start(ctx, "reservation.ExpireDue")
	defer span.End()

	due, err := m.store.FindExpired(ctx, m.now(), 500)
	if err != nil {
		m.logger.WithError(err).Error().Msg("failed to query expired reservations")
		return 0, 1
	}

	for _, r := range due {
		if err := m.expireOne(ctx, r); err != nil {
			failed++
			m.logger.WithError(err).WithReservationID(r.ID).Error().Msg("failed to expire reservation")
			continue
		}
		expired++
	}

	return expired, failed
}

// expireOne releases one overdue hold and marks the line EXPIRED. The
// guarded transition means a reservation confirmed or cancelled in the
// instant before we lock it is simply left alone.
func (m *Manager) expireOne(ctx context.Context, r *domain.Reservation) error {
	hold, items, err := m.ledger.LockAndRead(ctx, []string{r.ProductID})
	if err != nil {
		return err
	}
	defer hold.Release()

	now := m.now()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to begin transaction", err)
	}
	defer tx.Rollback()

	won, err := m.store.Transition(ctx, tx, r.ID, domain.ReservationStatusExpired, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if err := m.ledger.ApplyDelta(ctx, tx, hold, items[r.ProductID], -r.Quantity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal("STORAGE_ERROR", "failed to commit expiry", err)
	}

	hold.Release()
	m.emit(ctx, domain.NewReservationEvent(r.OrderID, domain.ReservationStatusExpired, now,
		[]domain.ReservationEventLine{{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			Available: items[r.ProductID].CanReserve(r.Quantity),
		}}))
	m.logger.WithOrderID(r.OrderID).WithReservationID(r.ID).Info().Msg("reservation expired, hold released")
	return nil
}

// emit publishes a lifecycle event. Emission happens strictly after commit
// and lock release; a failure is logged, counted, and never unwinds the
// committed transition.
func (m *Manager) emit(ctx context.Context, event *domain.ReservationEvent) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.metrics.RecordPublishFailure()
		m.logger.WithError(err).WithOrderID(event.OrderID).
			Error().Str("status", string(event.Status)).Msg("failed to publish lifecycle event")
	}
}
