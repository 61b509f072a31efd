package repository

import (
	"encoding/json"
	"fmt"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

// Documents holds the JSON encoded parts of an order stored by SQL backends.
type Documents struct {
	LineItems []byte
	Payment   []byte
	Metadata  []byte
}

// EncodeDocuments marshals the nested parts of order.
func EncodeDocuments(order *domain.Order) (*Documents, error) {
	lineItems, err := json.Marshal(order.LineItems)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}

	payment, err := json.Marshal(order.Payment)
	if err != nil {
		return nil, fmt.Errorf("encode payment: %w", err)
	}

	var metadata []byte
	if order.Metadata != nil {
		if metadata, err = json.Marshal(order.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	return &Documents{LineItems: lineItems, Payment: payment, Metadata: metadata}, nil
}

// Decode unmarshals the documents into order.
func (d *Documents) Decode(order *domain.Order) error {
	if err := json.Unmarshal(d.LineItems, &order.LineItems); err != nil {
		return fmt.Errorf("decode line items for order %s: %w", order.ID, err)
	}

	if err := json.Unmarshal(d.Payment, &order.Payment); err != nil {
		return fmt.Errorf("decode payment for order %s: %w", order.ID, err)
	}
	if order.Payment.Attempts == nil {
		order.Payment.Attempts = []domain.PaymentAttempt{}
	}

	if len(d.Metadata) > 0 {
		if err := json.Unmarshal(d.Metadata, &order.Metadata); err != nil {
			return fmt.Errorf("decode metadata for order %s: %w", order.ID, err)
		}
	}

	return nil
}
