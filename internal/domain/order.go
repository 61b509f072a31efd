package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is applied to orders created without an explicit currency.
const DefaultCurrency = "USD"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

// Statuses lists every known order status.
var Statuses = []Status{
	StatusCreated,
	StatusAwaitingPayment,
	StatusPaid,
	StatusFailed,
	StatusCancelled,
	StatusExpired,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusExpired
}

// LineItem is one purchased product within an order.
type LineItem struct {
	SKU       string          `json:"sku"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"qty"`
}

// Subtotal returns unit price multiplied by quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// MethodRef records the payment method chosen for an order.
type MethodRef struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Label    string `json:"label"`
}

// PaymentAttempt is an append-only record of one provider interaction.
type PaymentAttempt struct {
	ID         string          `json:"attemptId"`
	Provider   string          `json:"provider"`
	Response   json.RawMessage `json:"providerResponse,omitempty"`
	Status     string          `json:"status"`
	RecordedAt time.Time       `json:"createdAt"`
}

// Payment holds everything the order knows about being paid.
type Payment struct {
	Method    *MethodRef       `json:"method,omitempty"`
	SessionID string           `json:"paymentSessionId,omitempty"`
	Attempts  []PaymentAttempt `json:"attempts"`
	Verified  bool             `json:"verified"`
	PaidAt    *time.Time       `json:"paidAt,omitempty"`
}

// HasAttempt reports whether an attempt with the given id and status was already recorded.
func (p *Payment) HasAttempt(id, status string) bool {
	return slices.ContainsFunc(p.Attempts, func(a PaymentAttempt) bool {
		return a.ID == id && a.Status == status
	})
}

// Order is the aggregate driven through the payment lifecycle.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	UserID        string          `json:"userId,omitempty"`
	GuestToken    string          `json:"-"`
	LineItems     []LineItem      `json:"lineItems"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	Payment       Payment         `json:"payment"`
	ReservedUntil *time.Time      `json:"reservedUntil,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Version       int64           `json:"version"`
}

// NewOrderParams carries the caller supplied fields of a new order.
type NewOrderParams struct {
	UserID     string
	GuestToken string
	LineItems  []LineItem
	Currency   string
	Metadata   map[string]any
}

// NewOrder validates params and returns an order in the created status.
// A zero quantity defaults to one.
func NewOrder(params NewOrderParams, now time.Time) (*Order, error) {
	if len(params.LineItems) == 0 {
		return nil, &ValidationError{Field: "lineItems", Reason: "at least one line item is required"}
	}

	items := make([]LineItem, len(params.LineItems))
	for i, item := range params.LineItems {
		if strings.TrimSpace(item.SKU) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("lineItems[%d].sku", i), Reason: "must not be empty"}
		}
		if item.UnitPrice.IsNegative() {
			return nil, &ValidationError{Field: fmt.Sprintf("lineItems[%d].price", i), Reason: "must not be negative"}
		}
		if item.Quantity < 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("lineItems[%d].qty", i), Reason: "must not be negative"}
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		items[i] = item
	}

	currency, err := NormalizeCurrency(params.Currency)
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &Order{
		ID:         uuid.New(),
		UserID:     params.UserID,
		GuestToken: params.GuestToken,
		LineItems:  items,
		Total:      Total(items),
		Currency:   currency,
		Status:     StatusCreated,
		Payment:    Payment{Attempts: []PaymentAttempt{}},
		Metadata:   params.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Total sums the subtotals of items.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// NormalizeCurrency upper-cases an ISO 4217 code, defaulting to DefaultCurrency.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	if len(code) != 3 {
		return "", &ValidationError{Field: "currency", Reason: "must be a three letter ISO 4217 code"}
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", &ValidationError{Field: "currency", Reason: "must be a three letter ISO 4217 code"}
		}
	}
	return code, nil
}

// Owned reports whether the order is bound to a user or a guest token.
func (o *Order) Owned() bool {
	return o.UserID != "" || o.GuestToken != ""
}

// Lapsed reports whether the reservation ended before t.
func (o *Order) Lapsed(t time.Time) bool {
	return o.ReservedUntil != nil && o.ReservedUntil.Before(t)
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	c := *o
	c.LineItems = slices.Clone(o.LineItems)
	c.Metadata = maps.Clone(o.Metadata)
	if o.ReservedUntil != nil {
		t := *o.ReservedUntil
		c.ReservedUntil = &t
	}
	if o.Payment.Method != nil {
		m := *o.Payment.Method
		c.Payment.Method = &m
	}
	if o.Payment.PaidAt != nil {
		t := *o.Payment.PaidAt
		c.Payment.PaidAt = &t
	}
	c.Payment.Attempts = make([]PaymentAttempt, len(o.Payment.Attempts))
	for i, a := range o.Payment.Attempts {
		a.Response = slices.Clone(a.Response)
		c.Payment.Attempts[i] = a
	}
	return &c
}
