package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

// OrderStore keeps orders in process memory. It is safe for concurrent use
// and hands out copies, so callers never share state with the store.
type OrderStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*domain.Order
	sessions map[string]uuid.UUID
	events   map[string]string
	now      func() time.Time
}

// Option configures an OrderStore.
type Option func(*OrderStore)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *OrderStore) {
		s.now = now
	}
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore(opts ...Option) *OrderStore {
	s := &OrderStore{
		orders:   make(map[uuid.UUID]*domain.Order),
		sessions: make(map[string]uuid.UUID),
		events:   make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a copy of order.
func (s *OrderStore) Create(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}

	s.orders[order.ID] = order.Clone()
	s.indexSession(order)
	return nil
}

// Get returns a copy of the order with the given id.
func (s *OrderStore) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, repository.OrderNotFound(id)
	}
	return order.Clone(), nil
}

// Update applies mutate to a working copy and swaps it in when mutate succeeds.
func (s *OrderStore) Update(ctx context.Context, id uuid.UUID, mutate repository.Mutation) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[id]
	if !ok {
		return nil, repository.OrderNotFound(id)
	}

	working := current.Clone()
	if err := mutate(working); err != nil {
		if errors.Is(err, repository.ErrSkipUpdate) {
			return current.Clone(), nil
		}
		return nil, err
	}

	working.ID = current.ID
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = s.now().UTC()
	working.Version = current.Version + 1

	if current.Payment.SessionID != working.Payment.SessionID {
		delete(s.sessions, current.Payment.SessionID)
	}
	s.orders[id] = working
	s.indexSession(working)

	return working.Clone(), nil
}

// FindBySessionID returns the order bound to a payment session.
func (s *OrderStore) FindBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[sessionID]
	if !ok {
		return nil, repository.SessionNotFound(sessionID)
	}
	return s.orders[id].Clone(), nil
}

// List returns matching orders, newest first.
func (s *OrderStore) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Order, error) {
	return s.collect(ctx, filter.EffectiveLimit(), filter.Matches, func(a, b *domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

// ListLapsed returns awaiting_payment orders whose reservation ended before the cutoff,
// oldest reservation first.
func (s *OrderStore) ListLapsed(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	match := func(o *domain.Order) bool {
		return o.Status == domain.StatusAwaitingPayment && o.Lapsed(before)
	}
	return s.collect(ctx, limit, match, func(a, b *domain.Order) int {
		return a.ReservedUntil.Compare(*b.ReservedUntil)
	})
}

// EventProcessed reports whether the event id was recorded.
func (s *OrderStore) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.events[eventID]
	return ok, nil
}

// RecordEvent marks the event id as processed.
func (s *OrderStore) RecordEvent(ctx context.Context, eventID, eventType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[eventID] = eventType
	return nil
}

func (s *OrderStore) collect(
	ctx context.Context,
	limit int,
	match func(*domain.Order) bool,
	order func(a, b *domain.Order) int,
) ([]*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if match(o) {
			result = append(result, o.Clone())
		}
	}

	slices.SortFunc(result, func(a, b *domain.Order) int {
		return cmp.Or(order(a, b), cmp.Compare(a.ID.String(), b.ID.String()))
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *OrderStore) indexSession(order *domain.Order) {
	if order.Payment.SessionID != "" {
		s.sessions[order.Payment.SessionID] = order.ID
	}
}
