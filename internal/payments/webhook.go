package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

var errSessionMismatch = errors.New("webhook order does not own session")

// Ack is returned to the provider once a webhook needs no redelivery.
type Ack struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	EventID   string `json:"eventId,omitempty"`
}

// WebhookReconciler applies provider notifications to orders.
type WebhookReconciler struct {
	store    repository.Store
	machine  *lifecycle.Machine
	provider provider.Provider
	logger   *slog.Logger
}

// NewWebhookReconciler creates a WebhookReconciler.
func NewWebhookReconciler(
	store repository.Store,
	machine *lifecycle.Machine,
	p provider.Provider,
	logger *slog.Logger,
) *WebhookReconciler {
	return &WebhookReconciler{
		store:    store,
		machine:  machine,
		provider: p,
		logger:   logger,
	}
}

// Handle verifies and applies one webhook delivery. An error means the
// delivery should be retried by the provider, except for signature failures
// which must be rejected. Events are recorded only after they were applied.
func (r *WebhookReconciler) Handle(ctx context.Context, payload []byte, signature string) (*Ack, error) {
	event, err := r.provider.ParseWebhook(payload, signature)
	if err != nil {
		r.logger.WarnContext(ctx, "webhook_rejected", "provider", r.provider.Name(), "error", err)
		return nil, err
	}

	logger := r.logger.With("event_id", event.ID, "event_type", event.Type, "payment_session_id", event.SessionID)

	processed, err := r.store.EventProcessed(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if processed {
		logger.InfoContext(ctx, "webhook_duplicate")
		return &Ack{Received: true, Duplicate: true, EventID: event.ID}, nil
	}

	if event.Kind == provider.EventIgnored {
		logger.DebugContext(ctx, "webhook_ignored")
		return r.record(ctx, event, &Ack{Received: true, Ignored: true, EventID: event.ID})
	}

	order, err := r.resolveOrder(ctx, event)
	if err != nil {
		if repository.IsNotFound(err) {
			logger.WarnContext(ctx, "webhook_order_not_found", "order_id", event.OrderID)
			return &Ack{Received: true, Ignored: true, EventID: event.ID}, nil
		}
		if errors.Is(err, errSessionMismatch) {
			logger.WarnContext(ctx, "webhook_session_mismatch", "order_id", event.OrderID, "error", err)
			return &Ack{Received: true, Ignored: true, EventID: event.ID}, nil
		}
		return nil, err
	}
	logger = logger.With("order_id", order.ID)

	attempt := domain.PaymentAttempt{
		ID:       event.ID,
		Provider: r.provider.Name(),
		Response: event.Raw,
		Status:   event.Status,
	}

	var result *lifecycle.Result
	switch event.Kind {
	case provider.EventPaymentSucceeded:
		result, err = r.machine.MarkPaid(ctx, order.ID, attempt)
	case provider.EventPaymentFailed:
		result, err = r.machine.MarkFailed(ctx, order.ID, attempt)
	}

	if err != nil {
		if errors.Is(err, domain.ErrAlreadyPaid) || errors.Is(err, domain.ErrInvalidTransition) {
			logger.WarnContext(ctx, "webhook_transition_rejected", "status", order.Status, "error", err)
			return r.record(ctx, event, &Ack{Received: true, Ignored: true, EventID: event.ID})
		}
		return nil, err
	}

	logger.InfoContext(ctx, "webhook_applied", "status", result.Order.Status, "changed", result.Changed)
	return r.record(ctx, event, &Ack{Received: true, EventID: event.ID})
}

// resolveOrder finds the order bound to the event's session. An order id
// carried by the event must name that same order.
func (r *WebhookReconciler) resolveOrder(ctx context.Context, event *provider.WebhookEvent) (*domain.Order, error) {
	if event.SessionID == "" {
		return nil, repository.SessionNotFound(event.SessionID)
	}

	order, err := r.store.FindBySessionID(ctx, event.SessionID)
	if err != nil {
		return nil, err
	}

	if event.OrderID != "" && event.OrderID != order.ID.String() {
		return nil, fmt.Errorf("%w: session %s belongs to order %s", errSessionMismatch, event.SessionID, order.ID)
	}
	return order, nil
}

func (r *WebhookReconciler) record(ctx context.Context, event *provider.WebhookEvent, ack *Ack) (*Ack, error) {
	if err := r.store.RecordEvent(ctx, event.ID, event.Type); err != nil {
		return nil, err
	}
	return ack, nil
}
