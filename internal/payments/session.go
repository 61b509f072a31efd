package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
	"github.com/CameronXie/payment-lifecycle/internal/reservation"
)

// DefaultProviderTimeout bounds a single provider call.
const DefaultProviderTimeout = 10 * time.Second

// OpenSessionInput identifies the order and method a session is opened for.
type OpenSessionInput struct {
	OrderID   uuid.UUID
	MethodID  string
	ReturnURL string
}

// SessionDescriptor is what the client needs to complete payment.
type SessionDescriptor struct {
	OrderID       uuid.UUID     `json:"orderId"`
	Provider      string        `json:"provider"`
	SessionID     string        `json:"paymentSessionId"`
	ClientSecret  string        `json:"clientSecret,omitempty"`
	ReservedUntil time.Time     `json:"reservedUntil"`
	ReturnURL     string        `json:"returnUrl,omitempty"`
	Status        domain.Status `json:"status"`
}

// SessionService opens provider payment sessions for orders.
type SessionService struct {
	store        repository.OrderStore
	machine      *lifecycle.Machine
	provider     provider.Provider
	catalog      *provider.Catalog
	reservations *reservation.Manager
	timeout      time.Duration
	logger       *slog.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(
	store repository.OrderStore,
	machine *lifecycle.Machine,
	p provider.Provider,
	catalog *provider.Catalog,
	reservations *reservation.Manager,
	timeout time.Duration,
	logger *slog.Logger,
) *SessionService {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	return &SessionService{
		store:        store,
		machine:      machine,
		provider:     p,
		catalog:      catalog,
		reservations: reservations,
		timeout:      timeout,
		logger:       logger,
	}
}

// Open creates a provider session for the order and moves it to
// awaiting_payment. The provider is called before the order is touched, so a
// provider failure leaves the order unchanged.
func (s *SessionService) Open(ctx context.Context, in OpenSessionInput) (*SessionDescriptor, error) {
	method, ok := s.catalog.Lookup(in.MethodID)
	if !ok {
		return nil, &domain.ValidationError{Field: "paymentMethodId", Reason: "unknown payment method " + in.MethodID}
	}

	order, err := s.store.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}

	if _, err := lifecycle.Next(order.Status, lifecycle.EventOpenSession); err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, order, method)
	if err != nil {
		s.logger.WarnContext(ctx, "payment_session_failed", "order_id", order.ID, "method", method.ID, "error", err)
		return nil, err
	}

	result, err := s.machine.OpenSession(ctx, order.ID, lifecycle.SessionUpdate{
		Method:        method.Ref(),
		SessionID:     session.ID,
		ReservedUntil: s.reservations.Reserve(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment_session_opened",
		"order_id", order.ID,
		"provider", s.provider.Name(),
		"payment_session_id", session.ID,
		"method", method.ID,
	)

	return &SessionDescriptor{
		OrderID:       order.ID,
		Provider:      s.provider.Name(),
		SessionID:     session.ID,
		ClientSecret:  session.ClientSecret,
		ReservedUntil: *result.Order.ReservedUntil,
		ReturnURL:     in.ReturnURL,
		Status:        result.Order.Status,
	}, nil
}

func (s *SessionService) createSession(
	ctx context.Context,
	order *domain.Order,
	method provider.Method,
) (*provider.Session, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.provider.CreateSession(callCtx, order, method)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderUnavailable) {
			return nil, provider.Unavailable("create_session", err)
		}
		return nil, err
	}
	return session, nil
}
