package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

// Session statuses shared by every provider.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

// ErrUnknownSession is returned when the provider has no record of a session.
var ErrUnknownSession = errors.New("unknown payment session")

// EventKind classifies a webhook event by its effect on an order.
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventIgnored          EventKind = "ignored"
)

// Session is a freshly created provider payment session.
type Session struct {
	ID             string
	ClientSecret   string
	IdempotencyKey string
	Raw            json.RawMessage
}

// SessionStatus is the provider's current view of a session.
type SessionStatus struct {
	SessionID string
	Status    string
	Raw       json.RawMessage
}

// Succeeded reports whether the provider captured the payment.
func (s *SessionStatus) Succeeded() bool {
	return s.Status == StatusSucceeded
}

// WebhookEvent is a verified, normalized provider notification.
type WebhookEvent struct {
	ID        string
	Type      string
	Kind      EventKind
	OrderID   string
	SessionID string
	Status    string
	Raw       json.RawMessage
}

// Provider abstracts the payment backend used to collect money for an order.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, order *domain.Order, method Method) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// IdempotencyKey derives the provider idempotency key for an order's session,
// so repeated session requests for one order reuse the same provider object.
func IdempotencyKey(orderID uuid.UUID) string {
	return "pi_" + orderID.String()
}

// Unavailable wraps err as a transient provider failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrProviderUnavailable, err)
}

// InvalidSignature wraps err as a webhook verification failure.
func InvalidSignature(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
}
