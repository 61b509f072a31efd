package reservation

import (
	"time"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

// DefaultTTL is how long an order stays reserved after a payment session opens.
const DefaultTTL = 30 * time.Minute

// Manager computes reservation deadlines and decides when they have lapsed.
type Manager struct {
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithGrace delays expiry by d past the reservation deadline.
func WithGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager. A non-positive ttl falls back to DefaultTTL.
func NewManager(ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m := &Manager{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the reservation window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Reserve returns the deadline for a reservation starting now.
func (m *Manager) Reserve() time.Time {
	return m.now().UTC().Add(m.ttl)
}

// Cutoff returns the instant before which reservations count as lapsed.
func (m *Manager) Cutoff() time.Time {
	return m.now().UTC().Add(-m.grace)
}

// Lapsed reports whether the order holds an awaiting_payment reservation past the cutoff.
func (m *Manager) Lapsed(order *domain.Order) bool {
	return order.Status == domain.StatusAwaitingPayment && order.Lapsed(m.Cutoff())
}
