package provider

import (
	"slices"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

const (
	MethodCard   = "card"
	MethodBank   = "bank"
	MethodCrypto = "crypto"
)

// Method is a payment method offered at checkout.
type Method struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Provider  string   `json:"provider"`
	Supported []string `json:"supported,omitempty"`
	Networks  []string `json:"networks,omitempty"`
	Fees      float64  `json:"fees"`
}

// Ref returns the reference stored on an order choosing this method.
func (m Method) Ref() *domain.MethodRef {
	return &domain.MethodRef{ID: m.ID, Provider: m.Provider, Label: m.Label}
}

// Catalog lists the payment methods available for checkout.
type Catalog struct {
	methods []Method
}

// NewCatalog builds the checkout catalog. Every method is settled by the
// active provider, so each one is attributed to it.
func NewCatalog(activeProvider string) *Catalog {
	return &Catalog{methods: []Method{
		{
			ID:        MethodCard,
			Label:     "Credit / Debit Card",
			Provider:  activeProvider,
			Supported: []string{"visa", "mastercard", "amex"},
			Fees:      0.029,
		},
		{
			ID:       MethodBank,
			Label:    "Bank Transfer",
			Provider: activeProvider,
		},
		{
			ID:       MethodCrypto,
			Label:    "Crypto",
			Provider: activeProvider,
			Networks: []string{"ETH", "BTC"},
		},
	}}
}

// Methods returns every method in display order.
func (c *Catalog) Methods() []Method {
	return slices.Clone(c.methods)
}

// Lookup finds a method by id.
func (c *Catalog) Lookup(id string) (Method, bool) {
	i := slices.IndexFunc(c.methods, func(m Method) bool { return m.ID == id })
	if i < 0 {
		return Method{}, false
	}
	return c.methods[i], true
}
