package sweeper

import (
	"context"
	"time"

	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
)

// Expirer is the slice of the reservation manager the sweeper drives
type Expirer interface {
	ExpireDue(ctx context.Context) (expired, failed int)
}

// Sweeper periodically reclaims stock from reservations past their deadline.
// Only one sweep is ever in flight; a run that overlaps the next tick simply
// delays it. Sweeps never block request-path operations.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New creates a new expiry sweeper
func New(expirer Expirer, interval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run sweeps on the configured interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("expiry sweeper stopped")
			return ctx.Err()
		}
	}
}

// SweepOnce performs a single sweep
func (s *Sweeper) SweepOnce(ctx context.Context) {
	start := time.Now()
	expired, failed := s.expirer.ExpireDue(ctx)
	s.metrics.RecordSweep(time.Since(start), expired, failed)

	if expired > 0 || failed > 0 {
		s.logger.Info().
			Int("expired", expired).
			Int("failed", failed).
			Dur("duration", time.Since(start)).
			Msg("expiry sweep completed")
	}
}
