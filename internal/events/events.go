package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

// Type names an order lifecycle notification.
type Type string

const (
	TypeAwaitingPayment Type = "order.awaiting_payment"
	TypePaid            Type = "order.paid"
	TypeFailed          Type = "order.failed"
	TypeCancelled       Type = "order.cancelled"
	TypeExpired         Type = "order.expired"
)

// TypeFor returns the event type announcing entry into status.
func TypeFor(status domain.Status) (Type, bool) {
	switch status {
	case domain.StatusAwaitingPayment:
		return TypeAwaitingPayment, true
	case domain.StatusPaid:
		return TypePaid, true
	case domain.StatusFailed:
		return TypeFailed, true
	case domain.StatusCancelled:
		return TypeCancelled, true
	case domain.StatusExpired:
		return TypeExpired, true
	default:
		return "", false
	}
}

// Event is published after an order transition commits.
type Event struct {
	ID         uuid.UUID     `json:"id"`
	Type       Type          `json:"type"`
	OrderID    uuid.UUID     `json:"orderId"`
	From       domain.Status `json:"from"`
	Status     domain.Status `json:"status"`
	Version    int64         `json:"version"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// NewEvent describes the transition of order out of from.
func NewEvent(order *domain.Order, from domain.Status) (Event, bool) {
	eventType, ok := TypeFor(order.Status)
	if !ok {
		return Event{}, false
	}

	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OrderID:    order.ID,
		From:       from,
		Status:     order.Status,
		Version:    order.Version,
		OccurredAt: order.UpdatedAt,
	}, true
}

// Publisher delivers lifecycle events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "order_event",
		"event_id", event.ID,
		"type", event.Type,
		"order_id", event.OrderID,
		"from", event.From,
		"status", event.Status,
		"version", event.Version,
	)
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers event to all publishers.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
