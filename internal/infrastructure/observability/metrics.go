package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ReservationsCreated   prometheus.Counter
	ReservationsRejected  prometheus.Counter
	ReservationsConfirmed prometheus.Counter
	ReservationsCancelled prometheus.Counter
	ReservationsExpired   prometheus.Counter
	LockWaitDuration      prometheus.Histogram
	LockTimeouts          prometheus.Counter
	SweepDuration         prometheus.Histogram
	SweepFailures         prometheus.Counter
	EventPublishFailures  prometheus.Counter
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		ReservationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reservations_created_total",
			Help: "Total number of reservations created in PENDING state",
		}),
		ReservationsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reservations_rejected_total",
			Help: "Total number of reserve requests rejected for insufficient stock",
		}),
		ReservationsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reservations_confirmed_total",
			Help: "Total number of reservations confirmed",
		}),
		ReservationsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reservations_cancelled_total",
			Help: "Total number of reservations cancelled",
		}),
		ReservationsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reservations_expired_total",
			Help: "Total number of reservations expired by the sweeper",
		}),
		LockWaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stock_lock_wait_seconds",
			Help:    "Time spent waiting to acquire product locks",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stock_lock_timeouts_total",
			Help: "Total number of lock acquisitions that exceeded the bound",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "expiry_sweep_duration_seconds",
			Help:    "Expiry sweep execution duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10},
		}),
		SweepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "expiry_sweep_failures_total",
			Help: "Total number of reservations the sweeper failed to expire",
		}),
		EventPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Total number of lifecycle events that could not be published",
		}),
	}
}

// All Record methods tolerate a nil receiver so metrics stay optional in tests.

// RecordReserveOutcome records a reserve call outcome, one line per reservation
func (m *Metrics) RecordReserveOutcome(created bool, lines int) {
	if m == nil {
		return
	}
	if created {
		m.ReservationsCreated.Add(float64(lines))
	} else {
		m.ReservationsRejected.Add(float64(lines))
	}
}

// RecordConfirm records confirmed reservation lines
func (m *Metrics) RecordConfirm(lines int) {
	if m == nil {
		return
	}
	m.ReservationsConfirmed.Add(float64(lines))
}

// RecordCancel records cancelled reservation lines
func (m *Metrics) RecordCancel(lines int) {
	if m == nil {
		return
	}
	m.ReservationsCancelled.Add(float64(lines))
}

// RecordLockWait records the time spent acquiring product locks
func (m *Metrics) RecordLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitDuration.Observe(d.Seconds())
}

// RecordLockTimeout records a lock acquisition that exceeded its bound
func (m *Metrics) RecordLockTimeout() {
	if m == nil {
		return
	}
	m.LockTimeouts.Inc()
}

// RecordSweep records an expiry sweep run
func (m *Metrics) RecordSweep(d time.Duration, expired, failed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.ReservationsExpired.Add(float64(expired))
	m.SweepFailures.Add(float64(failed))
}

// RecordPublishFailure records a lifecycle event that could not be delivered
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}
