package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/CameronXie/payment-lifecycle/internal/repository"
	"github.com/CameronXie/payment-lifecycle/internal/reservation"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultSweepBatch    = 100
)

// Sweeper expires awaiting_payment orders whose reservation lapsed.
type Sweeper struct {
	store        repository.OrderStore
	machine      *Machine
	reservations *reservation.Manager
	interval     time.Duration
	batch        int
	logger       *slog.Logger
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets how often Run sweeps.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatch caps how many orders one sweep expires.
func WithBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	store repository.OrderStore,
	machine *Machine,
	reservations *reservation.Manager,
	logger *slog.Logger,
	opts ...SweeperOption,
) *Sweeper {
	s := &Sweeper{
		store:        store,
		machine:      machine,
		reservations: reservations,
		interval:     DefaultSweepInterval,
		batch:        DefaultSweepBatch,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep expires one batch of lapsed reservations and returns how many
// orders it expired. Failures on single orders are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.reservations.Cutoff()

	orders, err := s.store.ListLapsed(ctx, cutoff, s.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range orders {
		result, err := s.machine.Expire(ctx, order.ID, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "reservation_expire_failed", "order_id", order.ID, "error", err)
			continue
		}
		if result.Changed {
			expired++
		}
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "reservations_expired", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "reservation_sweep_failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
