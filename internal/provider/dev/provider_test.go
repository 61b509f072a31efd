package dev

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
)

const testSecret = "whsec_dev_test"

func TestProvider_CreateSession(t *testing.T) {
	now := time.UnixMilli(1717243200000)
	p := New(testSecret, WithClock(func() time.Time { return now }))
	order := &domain.Order{ID: uuid.MustParse("8d3d2f51-7b4e-4d1f-9f0e-3c2a1b0c9d8e")}

	session, err := p.CreateSession(context.Background(), order, provider.Method{ID: provider.MethodCard})
	require.NoError(t, err)
	assert.Equal(t, "dev_sess_8d3d2f51-7b4e-4d1f-9f0e-3c2a1b0c9d8e_1717243200000", session.ID)
	assert.Equal(t, provider.IdempotencyKey(order.ID), session.IdempotencyKey)
	assert.NotEmpty(t, session.ClientSecret)
	assert.JSONEq(t,
		`{"id":"dev_sess_8d3d2f51-7b4e-4d1f-9f0e-3c2a1b0c9d8e_1717243200000","orderId":"8d3d2f51-7b4e-4d1f-9f0e-3c2a1b0c9d8e","status":"pending"}`,
		string(session.Raw),
	)

	now = now.Add(time.Minute)
	again, err := p.CreateSession(context.Background(), order, provider.Method{ID: provider.MethodCard})
	require.NoError(t, err)
	assert.Equal(t, session.ID, again.ID)

	other, err := p.CreateSession(context.Background(), &domain.Order{ID: uuid.New()}, provider.Method{})
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, other.ID)
}

func TestProvider_CreateSessionForgetsExpiredSessions(t *testing.T) {
	now := time.UnixMilli(1717243200000)
	p := New(testSecret, WithClock(func() time.Time { return now }), WithSessionTTL(time.Hour))

	first := &domain.Order{ID: uuid.New()}
	old, err := p.CreateSession(context.Background(), first, provider.Method{})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = p.CreateSession(context.Background(), &domain.Order{ID: uuid.New()}, provider.Method{})
	require.NoError(t, err)
	assert.Len(t, p.sessions, 1)

	renewed, err := p.CreateSession(context.Background(), first, provider.Method{})
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, renewed.ID)
	assert.Len(t, p.sessions, 2)
}

func TestProvider_RetrieveSession(t *testing.T) {
	p := New(testSecret)

	testCases := map[string]struct {
		sessionID      string
		setupContext   func() context.Context
		expectedError  error
		expectedStatus string
	}{
		"should report dev session as succeeded": {
			sessionID:      "dev_sess_abc_1",
			setupContext:   context.Background,
			expectedStatus: provider.StatusSucceeded,
		},
		"should reject foreign session": {
			sessionID:     "pi_123",
			setupContext:  context.Background,
			expectedError: provider.ErrUnknownSession,
		},
		"should report cancelled context as unavailable": {
			sessionID: "dev_sess_abc_1",
			setupContext: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			expectedError: domain.ErrProviderUnavailable,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			status, err := p.RetrieveSession(tc.setupContext(), tc.sessionID)

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedStatus, status.Status)
			assert.True(t, status.Succeeded())
		})
	}
}

func TestProvider_ParseWebhook(t *testing.T) {
	orderID := "8d3d2f51-7b4e-4d1f-9f0e-3c2a1b0c9d8e"
	sessionID := "dev_sess_" + orderID + "_1717243200000"

	sign := func(body Payload, secret string) ([]byte, string) {
		payload, header, err := SignedPayload(body, secret)
		require.NoError(t, err)
		return payload, header
	}

	testCases := map[string]struct {
		secret          string
		build           func() ([]byte, string)
		expectedError   error
		expectedKind    provider.EventKind
		expectedID      string
		expectedOrderID string
	}{
		"should parse succeeded event": {
			secret: testSecret,
			build: func() ([]byte, string) {
				return sign(Payload{ID: "evt_1", Event: "payment_succeeded", PaymentSessionID: sessionID}, testSecret)
			},
			expectedKind: provider.EventPaymentSucceeded,
			expectedID:   "evt_1",
		},
		"should keep order id from body": {
			secret: testSecret,
			build: func() ([]byte, string) {
				return sign(Payload{ID: "evt_3", Event: "payment_succeeded", PaymentSessionID: sessionID, OrderID: orderID}, testSecret)
			},
			expectedKind:    provider.EventPaymentSucceeded,
			expectedID:      "evt_3",
			expectedOrderID: orderID,
		},
		"should derive event id when absent": {
			secret: testSecret,
			build: func() ([]byte, string) {
				return sign(Payload{Event: "payment_failed", PaymentSessionID: sessionID}, testSecret)
			},
			expectedKind: provider.EventPaymentFailed,
			expectedID:   "dev_evt_payment_failed_" + sessionID,
		},
		"should ignore unknown event": {
			secret: testSecret,
			build: func() ([]byte, string) {
				return sign(Payload{ID: "evt_2", Event: "refund_created", PaymentSessionID: "sess"}, testSecret)
			},
			expectedKind: provider.EventIgnored,
			expectedID:   "evt_2",
		},
		"should reject wrong secret": {
			secret: testSecret,
			build: func() ([]byte, string) {
				return sign(Payload{Event: "payment_succeeded", PaymentSessionID: sessionID}, "other")
			},
			expectedError: domain.ErrInvalidSignature,
		},
		"should reject missing signature": {
			secret: testSecret,
			build: func() ([]byte, string) {
				return []byte(`{"event":"payment_succeeded"}`), ""
			},
			expectedError: domain.ErrInvalidSignature,
		},
		"should reject tampered payload": {
			secret: testSecret,
			build: func() ([]byte, string) {
				_, header := sign(Payload{Event: "payment_failed", PaymentSessionID: sessionID}, testSecret)
				return []byte(`{"event":"payment_succeeded","paymentSessionId":"` + sessionID + `"}`), header
			},
			expectedError: domain.ErrInvalidSignature,
		},
		"should reject when no secret configured": {
			build: func() ([]byte, string) {
				return sign(Payload{Event: "payment_succeeded", PaymentSessionID: sessionID}, "")
			},
			expectedError: domain.ErrInvalidSignature,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			payload, header := tc.build()

			event, err := New(tc.secret).ParseWebhook(payload, header)

			if tc.expectedError != nil {
				assert.ErrorIs(t, err, tc.expectedError)
				assert.Nil(t, event)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedKind, event.Kind)
			assert.Equal(t, tc.expectedID, event.ID)
			assert.Equal(t, tc.expectedOrderID, event.OrderID)
		})
	}
}
