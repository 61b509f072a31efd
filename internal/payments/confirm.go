package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

// ConfirmResult reports whether the order ended up paid.
type ConfirmResult struct {
	OrderID     uuid.UUID     `json:"orderId"`
	Paid        bool          `json:"paid"`
	Status      string        `json:"status"`
	OrderStatus domain.Status `json:"orderStatus"`
}

// ConfirmationService verifies a session with the provider after the client
// returns from checkout.
type ConfirmationService struct {
	store    repository.OrderStore
	machine  *lifecycle.Machine
	provider provider.Provider
	timeout  time.Duration
	logger   *slog.Logger
	inflight singleflight.Group
}

// NewConfirmationService creates a ConfirmationService.
func NewConfirmationService(
	store repository.OrderStore,
	machine *lifecycle.Machine,
	p provider.Provider,
	timeout time.Duration,
	logger *slog.Logger,
) *ConfirmationService {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	return &ConfirmationService{
		store:    store,
		machine:  machine,
		provider: p,
		timeout:  timeout,
		logger:   logger,
	}
}

// Confirm checks the session against the provider and marks the order paid
// on success. It is idempotent: a paid order is reported as paid without
// another provider call, and concurrent confirmations of one session share a
// single provider lookup.
func (s *ConfirmationService) Confirm(ctx context.Context, orderID uuid.UUID, sessionID string) (*ConfirmResult, error) {
	if sessionID == "" {
		return nil, &domain.ValidationError{Field: "paymentSessionId", Reason: "must not be empty"}
	}

	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Payment.SessionID != sessionID {
		return nil, repository.SessionNotFound(sessionID)
	}

	if order.Status == domain.StatusPaid {
		return paidResult(order), nil
	}

	value, err, shared := s.inflight.Do(orderID.String()+"/"+sessionID, func() (any, error) {
		return s.confirm(context.WithoutCancel(ctx), order, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.DebugContext(ctx, "payment_confirmation_shared", "order_id", orderID, "payment_session_id", sessionID)
	}

	result := *value.(*ConfirmResult)
	return &result, nil
}

func (s *ConfirmationService) confirm(ctx context.Context, order *domain.Order, sessionID string) (*ConfirmResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status, err := s.provider.RetrieveSession(callCtx, sessionID)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownSession) {
			return nil, repository.SessionNotFound(sessionID)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderUnavailable) {
			err = provider.Unavailable("retrieve_session", err)
		}
		s.logger.WarnContext(ctx, "payment_confirmation_failed",
			"order_id", order.ID,
			"payment_session_id", sessionID,
			"error", err,
		)
		return nil, err
	}

	if !status.Succeeded() {
		s.logger.InfoContext(ctx, "payment_not_yet_succeeded",
			"order_id", order.ID,
			"payment_session_id", sessionID,
			"status", status.Status,
		)
		return &ConfirmResult{
			OrderID:     order.ID,
			Paid:        false,
			Status:      status.Status,
			OrderStatus: order.Status,
		}, nil
	}

	result, err := s.machine.MarkPaid(ctx, order.ID, domain.PaymentAttempt{
		ID:       sessionID,
		Provider: s.provider.Name(),
		Response: status.Raw,
		Status:   status.Status,
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.InfoContext(ctx, "payment_confirmed", "order_id", order.ID, "payment_session_id", sessionID)
	}
	return paidResult(result.Order), nil
}

func paidResult(order *domain.Order) *ConfirmResult {
	return &ConfirmResult{
		OrderID:     order.ID,
		Paid:        true,
		Status:      provider.StatusSucceeded,
		OrderStatus: order.Status,
	}
}
