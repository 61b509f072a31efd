package lifecycle

import (
	"fmt"
	"slices"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

// Event is a stimulus that may move an order between statuses.
type Event string

const (
	EventOpenSession       Event = "open_session"
	EventPaymentSucceeded  Event = "payment_succeeded"
	EventPaymentFailed     Event = "payment_failed"
	EventCancel            Event = "cancel"
	EventReservationLapsed Event = "reservation_lapsed"
)

type transition struct {
	from []domain.Status
	to   domain.Status
}

var transitions = map[Event]transition{
	EventOpenSession: {
		from: []domain.Status{domain.StatusCreated, domain.StatusFailed, domain.StatusAwaitingPayment},
		to:   domain.StatusAwaitingPayment,
	},
	EventPaymentSucceeded: {
		from: []domain.Status{domain.StatusAwaitingPayment, domain.StatusFailed},
		to:   domain.StatusPaid,
	},
	EventPaymentFailed: {
		from: []domain.Status{domain.StatusAwaitingPayment, domain.StatusFailed},
		to:   domain.StatusFailed,
	},
	EventCancel: {
		from: []domain.Status{domain.StatusCreated, domain.StatusAwaitingPayment, domain.StatusFailed},
		to:   domain.StatusCancelled,
	},
	EventReservationLapsed: {
		from: []domain.Status{domain.StatusAwaitingPayment},
		to:   domain.StatusExpired,
	},
}

// TransitionError reports an event that the order's status does not accept.
type TransitionError struct {
	From  domain.Status
	Event Event
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s to order in status %s", e.Event, e.From)
}

// Unwrap exposes domain.ErrInvalidTransition to errors.Is.
func (e *TransitionError) Unwrap() error {
	return domain.ErrInvalidTransition
}

// Next returns the status reached by applying event to from.
// A paid order rejects everything but a repeated success with domain.ErrAlreadyPaid.
func Next(from domain.Status, event Event) (domain.Status, error) {
	t, ok := transitions[event]
	if !ok {
		return from, &TransitionError{From: from, Event: event}
	}

	if from == domain.StatusPaid {
		if event == EventPaymentSucceeded {
			return domain.StatusPaid, nil
		}
		return from, domain.ErrAlreadyPaid
	}

	if !slices.Contains(t.from, from) {
		return from, &TransitionError{From: from, Event: event}
	}
	return t.to, nil
}
