package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSkipUpdate may be returned by a Mutation to leave the order untouched.
// Update then returns the current order without error.
var ErrSkipUpdate = errors.New("skip update")

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	Key      string
	Value    string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with %s %s not found", e.Resource, e.Key, e.Value)
}

// OrderNotFound builds the NotFoundError for an order id.
func OrderNotFound(id uuid.UUID) *NotFoundError {
	return &NotFoundError{Resource: OrderResource, Key: "id", Value: id.String()}
}

// SessionNotFound builds the NotFoundError for a payment session id.
func SessionNotFound(sessionID string) *NotFoundError {
	return &NotFoundError{Resource: SessionResource, Key: "id", Value: sessionID}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
