package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/events"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

// Result is the outcome of applying an event to an order.
// Changed is false when the event was already reflected in the order.
type Result struct {
	Order   *domain.Order
	Changed bool
}

// SessionUpdate carries what opening a payment session writes to an order.
type SessionUpdate struct {
	Method        *domain.MethodRef
	SessionID     string
	ReservedUntil time.Time
}

// Machine applies lifecycle events to stored orders. Every transition runs
// inside OrderStore.Update, so concurrent events on one order serialize and
// the guard is evaluated against the latest state.
type Machine struct {
	store     repository.OrderStore
	publisher events.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source used for paidAt and attempts.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine creates a Machine publishing committed transitions to publisher.
func NewMachine(store repository.OrderStore, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenSession binds a payment session to the order and moves it to awaiting_payment.
func (m *Machine) OpenSession(ctx context.Context, id uuid.UUID, update SessionUpdate) (*Result, error) {
	return m.apply(ctx, id, EventOpenSession, func(o *domain.Order) (bool, error) {
		next, err := Next(o.Status, EventOpenSession)
		if err != nil {
			return false, err
		}

		reservedUntil := update.ReservedUntil.UTC()
		o.Status = next
		o.Payment.Method = update.Method
		o.Payment.SessionID = update.SessionID
		o.ReservedUntil = &reservedUntil
		return true, nil
	})
}

// MarkPaid records a successful attempt and moves the order to paid.
// Marking a paid order paid again changes nothing.
func (m *Machine) MarkPaid(ctx context.Context, id uuid.UUID, attempt domain.PaymentAttempt) (*Result, error) {
	return m.apply(ctx, id, EventPaymentSucceeded, func(o *domain.Order) (bool, error) {
		next, err := Next(o.Status, EventPaymentSucceeded)
		if err != nil {
			return false, err
		}
		if o.Status == domain.StatusPaid {
			return false, nil
		}

		now := m.now().UTC()
		o.Status = next
		o.Payment.Verified = true
		o.Payment.PaidAt = &now
		o.Payment.Attempts = append(o.Payment.Attempts, stampAttempt(attempt, now))
		return true, nil
	})
}

// MarkFailed records a failed attempt and moves the order to failed.
// A repeated report of the same attempt changes nothing.
func (m *Machine) MarkFailed(ctx context.Context, id uuid.UUID, attempt domain.PaymentAttempt) (*Result, error) {
	return m.apply(ctx, id, EventPaymentFailed, func(o *domain.Order) (bool, error) {
		next, err := Next(o.Status, EventPaymentFailed)
		if err != nil {
			return false, err
		}
		if o.Status == domain.StatusFailed && o.Payment.HasAttempt(attempt.ID, attempt.Status) {
			return false, nil
		}

		o.Status = next
		o.Payment.Attempts = append(o.Payment.Attempts, stampAttempt(attempt, m.now().UTC()))
		return true, nil
	})
}

// Cancel moves the order to cancelled and releases its reservation.
// Cancelling a cancelled order changes nothing.
func (m *Machine) Cancel(ctx context.Context, id uuid.UUID) (*Result, error) {
	return m.apply(ctx, id, EventCancel, func(o *domain.Order) (bool, error) {
		if o.Status == domain.StatusCancelled {
			return false, nil
		}

		next, err := Next(o.Status, EventCancel)
		if err != nil {
			return false, err
		}

		o.Status = next
		o.ReservedUntil = nil
		return true, nil
	})
}

// Expire moves an awaiting_payment order whose reservation ended before
// cutoff to expired. Orders that no longer qualify are left alone.
func (m *Machine) Expire(ctx context.Context, id uuid.UUID, cutoff time.Time) (*Result, error) {
	return m.apply(ctx, id, EventReservationLapsed, func(o *domain.Order) (bool, error) {
		if o.Status != domain.StatusAwaitingPayment || !o.Lapsed(cutoff) {
			return false, nil
		}

		next, err := Next(o.Status, EventReservationLapsed)
		if err != nil {
			return false, err
		}

		o.Status = next
		return true, nil
	})
}

func (m *Machine) apply(
	ctx context.Context,
	id uuid.UUID,
	event Event,
	edit func(o *domain.Order) (bool, error),
) (*Result, error) {
	var (
		from    domain.Status
		changed bool
	)

	order, err := m.store.Update(ctx, id, func(o *domain.Order) error {
		from = o.Status
		ok, err := edit(o)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrSkipUpdate
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		m.logger.InfoContext(ctx, "order_transition",
			"order_id", id,
			"event", event,
			"from", from,
			"to", order.Status,
			"version", order.Version,
		)
		if from != order.Status {
			m.publish(ctx, order, from)
		}
	}

	return &Result{Order: order, Changed: changed}, nil
}

func (m *Machine) publish(ctx context.Context, order *domain.Order, from domain.Status) {
	event, ok := events.NewEvent(order, from)
	if !ok {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "order_event_publish_failed",
			"order_id", order.ID,
			"type", event.Type,
			"error", err,
		)
	}
}

func stampAttempt(attempt domain.PaymentAttempt, now time.Time) domain.PaymentAttempt {
	if attempt.RecordedAt.IsZero() {
		attempt.RecordedAt = now
	}
	return attempt
}
