// Package dev implements a local payment provider that approves every session.
// Webhooks are signed with a shared secret using the Stripe signature scheme,
// so the same tooling can drive both providers.
package dev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
)

const (
	// Name identifies the provider on orders and attempts.
	Name = "dev"

	// SessionPrefix starts every session id this provider issues.
	SessionPrefix = "dev_sess_"

	// DefaultSessionTTL is how long a session is replayed for its idempotency key.
	DefaultSessionTTL = 24 * time.Hour
)

// Payload is the webhook body accepted by the dev provider.
type Payload struct {
	ID               string `json:"id,omitempty"`
	Event            string `json:"event"`
	PaymentSessionID string `json:"paymentSessionId"`
	OrderID          string `json:"orderId,omitempty"`
}

// Provider is the development stand-in for a real payment backend.
type Provider struct {
	webhookSecret string
	now           func() time.Time
	sessionTTL    time.Duration

	mu       sync.Mutex
	sessions map[string]issuedSession
}

type issuedSession struct {
	session  *provider.Session
	issuedAt time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source used for session ids.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithSessionTTL bounds how long issued sessions are remembered.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		p.sessionTTL = ttl
	}
}

// New creates a dev Provider verifying webhooks with webhookSecret.
func New(webhookSecret string, opts ...Option) *Provider {
	p := &Provider{
		webhookSecret: webhookSecret,
		now:           time.Now,
		sessionTTL:    DefaultSessionTTL,
		sessions:      make(map[string]issuedSession),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// CreateSession issues a session id derived from the order id and the current
// time. Requests sharing an idempotency key get the first session back until
// it is older than the session TTL.
func (p *Provider) CreateSession(ctx context.Context, order *domain.Order, _ provider.Method) (*provider.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.Unavailable("create_session", err)
	}

	key := provider.IdempotencyKey(order.ID)
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.prune(now)
	if issued, ok := p.sessions[key]; ok {
		return issued.session, nil
	}

	id := fmt.Sprintf("%s%s_%d", SessionPrefix, order.ID, now.UnixMilli())
	raw, err := json.Marshal(map[string]string{"id": id, "orderId": order.ID.String(), "status": provider.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	session := &provider.Session{
		ID:             id,
		ClientSecret:   id + "_secret",
		IdempotencyKey: key,
		Raw:            raw,
	}
	p.sessions[key] = issuedSession{session: session, issuedAt: now}
	return session, nil
}

// prune forgets sessions older than the TTL. Callers hold p.mu.
func (p *Provider) prune(now time.Time) {
	for key, issued := range p.sessions {
		if now.Sub(issued.issuedAt) >= p.sessionTTL {
			delete(p.sessions, key)
		}
	}
}

// RetrieveSession reports every dev session as succeeded.
func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (*provider.SessionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.Unavailable("retrieve_session", err)
	}

	if !strings.HasPrefix(sessionID, SessionPrefix) {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnknownSession, sessionID)
	}

	raw, err := json.Marshal(map[string]string{"id": sessionID, "status": provider.StatusSucceeded})
	if err != nil {
		return nil, fmt.Errorf("encode session status: %w", err)
	}

	return &provider.SessionStatus{SessionID: sessionID, Status: provider.StatusSucceeded, Raw: raw}, nil
}

// ParseWebhook verifies the signature header and decodes a dev Payload.
func (p *Provider) ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error) {
	if p.webhookSecret == "" {
		return nil, provider.InvalidSignature(errors.New("webhook secret not configured"))
	}
	if err := webhook.ValidatePayload(payload, signature, p.webhookSecret); err != nil {
		return nil, provider.InvalidSignature(err)
	}

	var body Payload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, provider.InvalidSignature(fmt.Errorf("decode payload: %w", err))
	}

	event := &provider.WebhookEvent{
		ID:        body.ID,
		Type:      body.Event,
		SessionID: body.PaymentSessionID,
		OrderID:   body.OrderID,
		Raw:       json.RawMessage(payload),
	}
	if event.ID == "" {
		event.ID = fmt.Sprintf("dev_evt_%s_%s", body.Event, body.PaymentSessionID)
	}

	switch provider.EventKind(body.Event) {
	case provider.EventPaymentSucceeded:
		event.Kind = provider.EventPaymentSucceeded
		event.Status = provider.StatusSucceeded
	case provider.EventPaymentFailed:
		event.Kind = provider.EventPaymentFailed
		event.Status = provider.StatusFailed
	default:
		event.Kind = provider.EventIgnored
	}

	return event, nil
}

// SignedPayload encodes body and signs it with secret, returning the payload
// and the signature header value. It backs the CLI and tests.
func SignedPayload(body Payload, secret string) ([]byte, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode payload: %w", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return signed.Payload, signed.Header, nil
}
