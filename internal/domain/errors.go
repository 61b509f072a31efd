package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyPaid is returned when an operation would disturb a paid order.
	ErrAlreadyPaid = errors.New("order already paid")

	// ErrInvalidTransition is returned when the order status does not allow the requested event.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrProviderUnavailable marks transient payment provider failures.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrSessionConflict is returned when the provider refuses a session request
	// that reuses an idempotency key with different parameters.
	ErrSessionConflict = errors.New("payment session conflict")

	// ErrForbidden is returned when the caller may not act on a resource.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
