package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

const (
	OrderResource   = "order"
	SessionResource = "payment session"
)

// DefaultListLimit caps List when the filter carries no limit.
const DefaultListLimit = 50

// Mutation edits an order inside the store's per-order critical section.
type Mutation func(order *domain.Order) error

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status domain.Status
	UserID string
	Limit  int
}

// EffectiveLimit returns the limit List should apply.
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Matches reports whether order satisfies the filter.
func (f ListFilter) Matches(order *domain.Order) bool {
	if f.Status != "" && order.Status != f.Status {
		return false
	}
	if f.UserID != "" && order.UserID != f.UserID {
		return false
	}
	return true
}

// OrderStore persists orders. Update runs mutate while holding exclusive
// access to the order, so concurrent updates of the same order serialize.
// Update refreshes UpdatedAt and increments Version before persisting.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, id uuid.UUID, mutate Mutation) (*domain.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Order, error)
	ListLapsed(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)
}

// EventLog remembers which provider webhook events were fully processed.
type EventLog interface {
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, eventID, eventType string) error
}

// Store is the full persistence surface.
type Store interface {
	OrderStore
	EventLog
}
