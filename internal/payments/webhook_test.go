package payments

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/events"
	"github.com/CameronXie/payment-lifecycle/internal/provider/dev"
)

const testWebhookSecret = "whsec_test"

func devSession(id uuid.UUID) string {
	return dev.SessionPrefix + id.String() + "_1"
}

func signed(t *testing.T, body dev.Payload) ([]byte, string) {
	t.Helper()

	payload, header, err := dev.SignedPayload(body, testWebhookSecret)
	require.NoError(t, err)
	return payload, header
}

func TestWebhookReconciler_Handle(t *testing.T) {
	testCases := map[string]struct {
		status           domain.Status
		event            string
		badSignature     bool
		unknownOrder     bool
		expectedError    error
		expectedAck      *Ack
		expectedStatus   domain.Status
		expectedAttempts int
		expectedRecorded bool
		expectedLog      string
	}{
		"should mark order paid on success": {
			status:           domain.StatusAwaitingPayment,
			event:            "payment_succeeded",
			expectedAck:      &Ack{Received: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusPaid,
			expectedAttempts: 1,
			expectedRecorded: true,
			expectedLog:      "webhook_applied",
		},
		"should mark order failed on failure": {
			status:           domain.StatusAwaitingPayment,
			event:            "payment_failed",
			expectedAck:      &Ack{Received: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusFailed,
			expectedAttempts: 1,
			expectedRecorded: true,
			expectedLog:      "webhook_applied",
		},
		"should acknowledge success for paid order without change": {
			status:           domain.StatusPaid,
			event:            "payment_succeeded",
			expectedAck:      &Ack{Received: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusPaid,
			expectedRecorded: true,
			expectedLog:      "webhook_applied",
		},
		"should acknowledge success for cancelled order and keep it cancelled": {
			status:           domain.StatusCancelled,
			event:            "payment_succeeded",
			expectedAck:      &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusCancelled,
			expectedRecorded: true,
			expectedLog:      "webhook_transition_rejected",
		},
		"should acknowledge failure for paid order and keep it paid": {
			status:           domain.StatusPaid,
			event:            "payment_failed",
			expectedAck:      &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusPaid,
			expectedRecorded: true,
			expectedLog:      "webhook_transition_rejected",
		},
		"should acknowledge unrelated events": {
			status:           domain.StatusAwaitingPayment,
			event:            "refund_created",
			expectedAck:      &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusAwaitingPayment,
			expectedRecorded: true,
			expectedLog:      "webhook_ignored",
		},
		"should acknowledge unknown order without side effects": {
			unknownOrder: true,
			event:        "payment_succeeded",
			expectedAck:  &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedLog:  "webhook_order_not_found",
		},
		"should reject bad signature without side effects": {
			status:         domain.StatusAwaitingPayment,
			event:          "payment_succeeded",
			badSignature:   true,
			expectedError:  domain.ErrInvalidSignature,
			expectedStatus: domain.StatusAwaitingPayment,
			expectedLog:    "webhook_rejected",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			reconciler := NewWebhookReconciler(f.store, f.machine, dev.New(testWebhookSecret), f.logs.Slog())

			var order *domain.Order
			sessionID := devSession(uuid.New())
			if !tc.unknownOrder {
				order = f.seed(t, tc.status, "")
				sessionID = devSession(order.ID)
				_, err := f.store.Update(context.Background(), order.ID, func(o *domain.Order) error {
					o.Payment.SessionID = sessionID
					return nil
				})
				require.NoError(t, err)
			}

			payload, header := signed(t, dev.Payload{ID: "evt_1", Event: tc.event, PaymentSessionID: sessionID})
			if tc.badSignature {
				header = "t=1,v1=deadbeef"
			}

			ack, err := reconciler.Handle(context.Background(), payload, header)

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				assert.Nil(t, ack)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expectedAck, ack)
			}

			recorded, err := f.store.EventProcessed(context.Background(), "evt_1")
			require.NoError(t, err)
			assert.Equal(t, tc.expectedRecorded, recorded)
			assert.Contains(t, f.logs.Messages(), tc.expectedLog)

			if order != nil {
				stored := f.get(t, order)
				assert.Equal(t, tc.expectedStatus, stored.Status)
				assert.Len(t, stored.Payment.Attempts, tc.expectedAttempts)
			}
		})
	}
}

func TestWebhookReconciler_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	reconciler := NewWebhookReconciler(f.store, f.machine, dev.New(testWebhookSecret), f.logs.Slog())
	order := f.seed(t, domain.StatusAwaitingPayment, "")
	sessionID := devSession(order.ID)
	_, err := f.store.Update(context.Background(), order.ID, func(o *domain.Order) error {
		o.Payment.SessionID = sessionID
		return nil
	})
	require.NoError(t, err)

	payload, header := signed(t, dev.Payload{ID: "evt_9", Event: "payment_succeeded", PaymentSessionID: sessionID})

	first, err := reconciler.Handle(context.Background(), payload, header)
	require.NoError(t, err)
	second, err := reconciler.Handle(context.Background(), payload, header)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.True(t, f.logs.Has(slog.LevelInfo, "webhook_duplicate"))

	stored := f.get(t, order)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	assert.Len(t, stored.Payment.Attempts, 1)
	assert.Equal(t, 1, f.publisher.count(events.TypePaid))
}

func TestWebhookReconciler_FindsOrderBySession(t *testing.T) {
	f := newFixture(t)
	reconciler := NewWebhookReconciler(f.store, f.machine, dev.New(testWebhookSecret), f.logs.Slog())
	order := f.seed(t, domain.StatusAwaitingPayment, "custom_session")

	payload, header := signed(t, dev.Payload{ID: "evt_2", Event: "payment_succeeded", PaymentSessionID: "custom_session"})

	ack, err := reconciler.Handle(context.Background(), payload, header)
	require.NoError(t, err)
	assert.False(t, ack.Ignored)
	assert.Equal(t, domain.StatusPaid, f.get(t, order).Status)
}

func TestWebhookReconciler_SessionBinding(t *testing.T) {
	testCases := map[string]struct {
		webhook          func(owner, other *domain.Order) dev.Payload
		expectedAck      *Ack
		expectedStatus   domain.Status
		expectedAttempts int
		expectedRecorded bool
		expectedLog      string
	}{
		"should apply event naming the session owner": {
			webhook: func(owner, _ *domain.Order) dev.Payload {
				return dev.Payload{ID: "evt_1", Event: "payment_succeeded", PaymentSessionID: owner.Payment.SessionID, OrderID: owner.ID.String()}
			},
			expectedAck:      &Ack{Received: true, EventID: "evt_1"},
			expectedStatus:   domain.StatusPaid,
			expectedAttempts: 1,
			expectedRecorded: true,
			expectedLog:      "webhook_applied",
		},
		"should ignore stale session of the same order": {
			webhook: func(owner, _ *domain.Order) dev.Payload {
				return dev.Payload{ID: "evt_1", Event: "payment_succeeded", PaymentSessionID: dev.SessionPrefix + owner.ID.String() + "_9999"}
			},
			expectedAck:    &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedStatus: domain.StatusAwaitingPayment,
			expectedLog:    "webhook_order_not_found",
		},
		"should ignore order id that does not own the session": {
			webhook: func(owner, other *domain.Order) dev.Payload {
				return dev.Payload{ID: "evt_1", Event: "payment_succeeded", PaymentSessionID: other.Payment.SessionID, OrderID: owner.ID.String()}
			},
			expectedAck:    &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedStatus: domain.StatusAwaitingPayment,
			expectedLog:    "webhook_session_mismatch",
		},
		"should ignore event without session": {
			webhook: func(owner, _ *domain.Order) dev.Payload {
				return dev.Payload{ID: "evt_1", Event: "payment_succeeded", OrderID: owner.ID.String()}
			},
			expectedAck:    &Ack{Received: true, Ignored: true, EventID: "evt_1"},
			expectedStatus: domain.StatusAwaitingPayment,
			expectedLog:    "webhook_order_not_found",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			reconciler := NewWebhookReconciler(f.store, f.machine, dev.New(testWebhookSecret), f.logs.Slog())

			owner := f.seed(t, domain.StatusAwaitingPayment, "")
			owner, err := f.store.Update(context.Background(), owner.ID, func(o *domain.Order) error {
				o.Payment.SessionID = dev.SessionPrefix + o.ID.String() + "_1000"
				return nil
			})
			require.NoError(t, err)
			other := f.seed(t, domain.StatusAwaitingPayment, dev.SessionPrefix+uuid.NewString()+"_1000")

			payload, header := signed(t, tc.webhook(owner, other))

			ack, err := reconciler.Handle(context.Background(), payload, header)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedAck, ack)
			assert.Contains(t, f.logs.Messages(), tc.expectedLog)

			recorded, err := f.store.EventProcessed(context.Background(), "evt_1")
			require.NoError(t, err)
			assert.Equal(t, tc.expectedRecorded, recorded)

			stored := f.get(t, owner)
			assert.Equal(t, tc.expectedStatus, stored.Status)
			assert.Len(t, stored.Payment.Attempts, tc.expectedAttempts)
			assert.Equal(t, domain.StatusAwaitingPayment, f.get(t, other).Status)
		})
	}
}
