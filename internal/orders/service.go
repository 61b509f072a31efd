// Package orders implements order creation, lookup and cancellation.
package orders

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

// MaxListLimit bounds the page size a caller may request.
const MaxListLimit = 200

// CreateInput carries the caller supplied fields of a new order.
type CreateInput struct {
	UserID     string
	GuestToken string
	LineItems  []domain.LineItem
	Currency   string
	Metadata   map[string]any
}

// Service owns the order operations that are not payment transitions.
type Service struct {
	store    repository.OrderStore
	machine  *lifecycle.Machine
	currency string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDefaultCurrency sets the currency used when CreateInput has none.
func WithDefaultCurrency(code string) Option {
	return func(s *Service) {
		s.currency = code
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service.
func NewService(store repository.OrderStore, machine *lifecycle.Machine, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		machine:  machine,
		currency: domain.DefaultCurrency,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates input and stores a new order in the created status.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Order, error) {
	currency := in.Currency
	if currency == "" {
		currency = s.currency
	}

	order, err := domain.NewOrder(domain.NewOrderParams{
		UserID:     in.UserID,
		GuestToken: in.GuestToken,
		LineItems:  in.LineItems,
		Currency:   currency,
		Metadata:   in.Metadata,
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order_created",
		"order_id", order.ID,
		"total", order.Total.String(),
		"currency", order.Currency,
		"line_items", len(order.LineItems),
		"guest", order.UserID == "",
	)
	return order, nil
}

// Get returns the order with id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders matching filter, newest first.
func (s *Service) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown order status"}
	}
	if filter.Limit < 0 || filter.Limit > MaxListLimit {
		return nil, &domain.ValidationError{Field: "limit", Reason: "must be between 1 and 200"}
	}

	return s.store.List(ctx, filter)
}

// Cancel cancels the order. Paid orders return domain.ErrAlreadyPaid.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	result, err := s.machine.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.InfoContext(ctx, "order_cancelled", "order_id", id)
	}
	return result.Order, nil
}
