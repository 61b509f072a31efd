package rest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/handlers"
	"github.com/CameronXie/payment-lifecycle/internal/api/rest/middlewares"
	"github.com/CameronXie/payment-lifecycle/internal/decisionmaker/casbin"
	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/enforcer"
	"github.com/CameronXie/payment-lifecycle/internal/events"
	"github.com/CameronXie/payment-lifecycle/internal/infoprovider"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/logtest"
	"github.com/CameronXie/payment-lifecycle/internal/orders"
	"github.com/CameronXie/payment-lifecycle/internal/payments"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
	"github.com/CameronXie/payment-lifecycle/internal/provider/dev"
	"github.com/CameronXie/payment-lifecycle/internal/repository/memory"
	"github.com/CameronXie/payment-lifecycle/internal/reservation"
)

const (
	testWebhookSecret = "whsec_router"
	testAdmin         = "ops@example.com"
)

type publicKey struct {
	key *rsa.PublicKey
}

func (p publicKey) FetchPublicKey() (*rsa.PublicKey, error) {
	return p.key, nil
}

type testServer struct {
	router     http.Handler
	privateKey *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	logger := logtest.New().Slog()
	store := memory.NewOrderStore()
	machine := lifecycle.NewMachine(store, events.NewLogPublisher(logger), logger)
	payProvider := dev.New(testWebhookSecret)
	catalog := provider.NewCatalog(payProvider.Name())
	orderService := orders.NewService(store, machine, logger)

	decisionMaker, err := casbin.NewDefaultDecisionMaker()
	require.NoError(t, err)
	e := enforcer.NewEnforcer(decisionMaker, infoprovider.NewAdminInfoProvider([]string{testAdmin}))

	router := NewRouter(&RouterConfig{
		OrderHandler: handlers.NewOrderHandler(orderService, e, logger),
		PaymentHandler: handlers.NewPaymentHandler(
			orderService,
			payments.NewSessionService(store, machine, payProvider, catalog, reservation.NewManager(reservation.DefaultTTL), time.Second, logger),
			payments.NewConfirmationService(store, machine, payProvider, time.Second, logger),
			catalog,
			e,
			logger,
		),
		WebhookHandler: handlers.NewWebhookHandler(payments.NewWebhookReconciler(store, machine, payProvider, logger), logger),
		AuthenticationMiddleware: middlewares.NewJWTAuthenticationMiddleware(middlewares.JWTConfig{
			KeyFetcher: publicKey{key: &privateKey.PublicKey},
		}, logger),
		RequestLogger: middlewares.NewRequestLogger(logger),
	})

	return &testServer{router: router, privateKey: privateKey}
}

func (s *testServer) token(t *testing.T, subject string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(s.privateKey)
	require.NoError(t, err)
	return token
}

type call struct {
	method     string
	path       string
	body       any
	guestToken string
	bearer     string
	headers    map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		body = bytes.NewReader(nil)
	case []byte:
		body = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(c.method, c.path, body)
	if c.guestToken != "" {
		req.Header.Set(middlewares.GuestTokenHeader, c.guestToken)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestRouter_GuestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	guest := "guest-abc"

	rr := s.do(t, call{
		method:     http.MethodPost,
		path:       "/api/orders",
		guestToken: guest,
		body: map[string]any{
			"lineItems": []map[string]any{{"sku": "tee-1", "title": "Tee", "price": "30", "qty": 1}},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[handlers.CreateOrderResponse](t, rr)
	assert.Equal(t, domain.StatusCreated, created.Status)
	assert.Equal(t, "30", created.Total.String())
	assert.Equal(t, "/billing/"+created.OrderID.String(), created.RedirectURL)
	orderPath := "/api/orders/" + created.OrderID.String()

	rr = s.do(t, call{method: http.MethodGet, path: orderPath})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, call{method: http.MethodGet, path: "/api/payments/methods"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[handlers.MethodsResponse](t, rr).Methods, 3)

	rr = s.do(t, call{
		method:     http.MethodPost,
		path:       "/api/payments/sessions",
		guestToken: guest,
		body:       map[string]string{"orderId": created.OrderID.String(), "paymentMethodId": "card", "returnUrl": "/billing/done"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	session := decode[payments.SessionDescriptor](t, rr)
	assert.Equal(t, dev.Name, session.Provider)
	assert.True(t, strings.HasPrefix(session.SessionID, dev.SessionPrefix))
	assert.Equal(t, domain.StatusAwaitingPayment, session.Status)

	for i := 0; i < 2; i++ {
		rr = s.do(t, call{
			method:     http.MethodPost,
			path:       "/api/payments/confirm",
			guestToken: guest,
			body:       map[string]string{"orderId": created.OrderID.String(), "paymentSessionId": session.SessionID},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.True(t, decode[payments.ConfirmResult](t, rr).Paid)
	}

	payload, signature, err := dev.SignedPayload(dev.Payload{
		ID:               "evt_router_1",
		Event:            "payment_succeeded",
		PaymentSessionID: session.SessionID,
	}, testWebhookSecret)
	require.NoError(t, err)
	rr = s.do(t, call{
		method:  http.MethodPost,
		path:    "/api/payments/webhook",
		body:    payload,
		headers: map[string]string{handlers.SignatureHeader: signature},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[payments.Ack](t, rr).Received)

	rr = s.do(t, call{method: http.MethodGet, path: orderPath, guestToken: guest})
	require.Equal(t, http.StatusOK, rr.Code)
	order := decode[domain.Order](t, rr)
	assert.Equal(t, domain.StatusPaid, order.Status)
	assert.True(t, order.Payment.Verified)
	assert.Len(t, order.Payment.Attempts, 1)
	assert.NotContains(t, rr.Body.String(), guest)

	rr = s.do(t, call{method: http.MethodPost, path: orderPath + "/cancel", guestToken: guest})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.JSONEq(t, `{"error":"order already paid"}`, rr.Body.String())
}

func TestRouter_Routes(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, call{
		method: http.MethodPost,
		path:   "/api/orders",
		bearer: s.token(t, "alice"),
		body:   map[string]any{"lineItems": []map[string]any{{"sku": "mug", "price": 12.5}}},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[handlers.CreateOrderResponse](t, rr)

	testCases := map[string]struct {
		call           call
		expectedStatus int
		expectedBody   string
	}{
		"should report health": {
			call:           call{method: http.MethodGet, path: "/health"},
			expectedStatus: http.StatusOK,
		},
		"should let owner read order": {
			call:           call{method: http.MethodGet, path: "/api/orders/" + created.OrderID.String(), bearer: s.token(t, "alice")},
			expectedStatus: http.StatusOK,
		},
		"should forbid another user": {
			call:           call{method: http.MethodGet, path: "/api/orders/" + created.OrderID.String(), bearer: s.token(t, "bob")},
			expectedStatus: http.StatusForbidden,
			expectedBody:   `{"error":"forbidden"}`,
		},
		"should let admin list orders": {
			call:           call{method: http.MethodGet, path: "/api/orders?userId=alice", bearer: s.token(t, testAdmin)},
			expectedStatus: http.StatusOK,
		},
		"should forbid guests listing orders": {
			call:           call{method: http.MethodGet, path: "/api/orders"},
			expectedStatus: http.StatusForbidden,
		},
		"should reject bad limit": {
			call:           call{method: http.MethodGet, path: "/api/orders?limit=ten", bearer: s.token(t, testAdmin)},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid request","message":"limit must be a number"}`,
		},
		"should reject invalid token": {
			call:           call{method: http.MethodGet, path: "/api/orders", bearer: "not-a-jwt"},
			expectedStatus: http.StatusUnauthorized,
		},
		"should return not found for unknown order": {
			call:           call{method: http.MethodGet, path: "/api/orders/9d7a4c3e-2b1f-4a8e-9c6d-5e4f3a2b1c0d"},
			expectedStatus: http.StatusNotFound,
		},
		"should reject malformed order id": {
			call:           call{method: http.MethodGet, path: "/api/orders/not-a-uuid"},
			expectedStatus: http.StatusBadRequest,
		},
		"should reject unknown payment method": {
			call: call{
				method: http.MethodPost,
				path:   "/api/payments/sessions",
				bearer: s.token(t, "alice"),
				body:   map[string]string{"orderId": created.OrderID.String(), "methodId": "cheque"},
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid request","message":"invalid paymentMethodId: unknown payment method cheque"}`,
		},
		"should reject confirmation for foreign session": {
			call: call{
				method: http.MethodPost,
				path:   "/api/payments/confirm",
				bearer: s.token(t, "alice"),
				body:   map[string]string{"orderId": created.OrderID.String(), "paymentSessionId": "dev_sess_other"},
			},
			expectedStatus: http.StatusNotFound,
		},
		"should reject unsigned webhook": {
			call: call{
				method: http.MethodPost,
				path:   "/api/payments/webhook",
				body:   []byte(`{"event":"payment_succeeded","paymentSessionId":"dev_sess_x"}`),
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid signature"}`,
		},
		"should acknowledge webhook for unknown order": {
			call:           signedWebhook(t, "dev_sess_9d7a4c3e-2b1f-4a8e-9c6d-5e4f3a2b1c0d_1"),
			expectedStatus: http.StatusOK,
		},
		"should reject malformed body": {
			call:           call{method: http.MethodPost, path: "/api/orders", body: []byte(`{"lineItems":`)},
			expectedStatus: http.StatusBadRequest,
		},
		"should return json for unknown route": {
			call:           call{method: http.MethodGet, path: "/api/unknown"},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"not found"}`,
		},
		"should reject wrong method": {
			call:           call{method: http.MethodDelete, path: "/health"},
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			rr := s.do(t, tc.call)

			assert.Equal(t, tc.expectedStatus, rr.Code, rr.Body.String())
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			if tc.expectedBody != "" {
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func signedWebhook(t *testing.T, sessionID string) call {
	t.Helper()

	payload, signature, err := dev.SignedPayload(dev.Payload{Event: "payment_succeeded", PaymentSessionID: sessionID}, testWebhookSecret)
	require.NoError(t, err)
	return call{
		method:  http.MethodPost,
		path:    "/api/payments/webhook",
		body:    payload,
		headers: map[string]string{handlers.SignatureHeader: signature},
	}
}
