// Package stripe adapts Stripe PaymentIntents to the provider interface.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
)

// Name identifies the provider on orders and attempts.
const Name = "stripe"

// OrderIDMetadataKey carries the order id on every PaymentIntent.
const OrderIDMetadataKey = "orderId"

type intentAPI interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
}

// Config holds the Stripe credentials and HTTP settings.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int64
}

// Provider creates and inspects Stripe PaymentIntents.
type Provider struct {
	intents       intentAPI
	webhookSecret string
	logger        *slog.Logger
}

// New builds a Provider backed by a dedicated Stripe API client.
func New(cfg Config, logger *slog.Logger) *Provider {
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		LeveledLogger:     &leveledLogger{logger: logger},
		MaxNetworkRetries: stripego.Int64(cfg.MaxRetries),
	})

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripego.Backends{API: backend, Connect: backend, Uploads: backend})

	return newProvider(api.PaymentIntents, cfg.WebhookSecret, logger)
}

func newProvider(intents intentAPI, webhookSecret string, logger *slog.Logger) *Provider {
	return &Provider{
		intents:       intents,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// CreateSession creates a PaymentIntent for the order total in minor units.
// The idempotency key is derived from the order id and the params depend only
// on the order, so retries with any method return the same intent.
func (p *Provider) CreateSession(
	ctx context.Context,
	order *domain.Order,
	_ provider.Method,
) (*provider.Session, error) {
	key := provider.IdempotencyKey(order.ID)

	params := &stripego.PaymentIntentParams{
		Amount:      stripego.Int64(MinorUnits(order)),
		Currency:    stripego.String(strings.ToLower(order.Currency)),
		Description: stripego.String("Payment for order " + order.ID.String()),
		Metadata: map[string]string{
			OrderIDMetadataKey: order.ID.String(),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)

	intent, err := p.intents.New(params)
	if err != nil {
		return nil, classify("create_payment_intent", err)
	}

	raw, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("encode payment intent %s: %w", intent.ID, err)
	}

	p.logger.Info("payment_intent_created", "order_id", order.ID, "payment_intent_id", intent.ID)

	return &provider.Session{
		ID:             intent.ID,
		ClientSecret:   intent.ClientSecret,
		IdempotencyKey: key,
		Raw:            raw,
	}, nil
}

// RetrieveSession fetches the PaymentIntent and reports its status.
func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (*provider.SessionStatus, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.intents.Get(sessionID, params)
	if err != nil {
		return nil, classify("retrieve_payment_intent", err)
	}

	raw, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("encode payment intent %s: %w", intent.ID, err)
	}

	return &provider.SessionStatus{
		SessionID: intent.ID,
		Status:    string(intent.Status),
		Raw:       raw,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes
// payment_intent events.
func (p *Provider) ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, provider.InvalidSignature(err)
	}

	result := &provider.WebhookEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: provider.EventIgnored,
		Raw:  json.RawMessage(payload),
	}

	switch event.Type {
	case stripego.EventTypePaymentIntentSucceeded:
		result.Kind = provider.EventPaymentSucceeded
	case stripego.EventTypePaymentIntentPaymentFailed, stripego.EventTypePaymentIntentCanceled:
		result.Kind = provider.EventPaymentFailed
	default:
		return result, nil
	}

	if event.Data == nil {
		return nil, provider.InvalidSignature(errors.New("event has no data"))
	}

	var intent stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, provider.InvalidSignature(fmt.Errorf("decode payment intent: %w", err))
	}

	result.SessionID = intent.ID
	result.OrderID = intent.Metadata[OrderIDMetadataKey]
	result.Status = string(intent.Status)
	if result.Status == "" {
		result.Status = provider.StatusFailed
		if result.Kind == provider.EventPaymentSucceeded {
			result.Status = provider.StatusSucceeded
		}
	}

	return result, nil
}

// MinorUnits converts the order total to the smallest currency unit.
func MinorUnits(order *domain.Order) int64 {
	return order.Total.Shift(2).Round(0).IntPart()
}

// classify marks transport failures, rate limits and 5xx answers as transient.
func classify(op string, err error) error {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return provider.Unavailable(op, err)
	}

	switch {
	case stripeErr.Type == stripego.ErrorTypeIdempotency:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrSessionConflict, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, provider.ErrUnknownSession, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == 0:
		return provider.Unavailable(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

type leveledLogger struct {
	logger *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}
