package payments

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/events"
	"github.com/CameronXie/payment-lifecycle/internal/lifecycle"
	"github.com/CameronXie/payment-lifecycle/internal/logtest"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
	"github.com/CameronXie/payment-lifecycle/internal/repository/memory"
	"github.com/CameronXie/payment-lifecycle/internal/reservation"
)

var testNow = time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) CreateSession(ctx context.Context, order *domain.Order, method provider.Method) (*provider.Session, error) {
	args := m.Called(ctx, order, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Session), args.Error(1)
}

func (m *mockProvider) RetrieveSession(ctx context.Context, sessionID string) (*provider.SessionStatus, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.SessionStatus), args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.WebhookEvent), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	store        *memory.OrderStore
	publisher    *recordingPublisher
	logs         *logtest.Logger
	machine      *lifecycle.Machine
	reservations *reservation.Manager
	catalog      *provider.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := func() time.Time { return testNow }
	f := &fixture{
		store:        memory.NewOrderStore(memory.WithClock(clock)),
		publisher:    &recordingPublisher{},
		logs:         logtest.New(),
		reservations: reservation.NewManager(30*time.Minute, reservation.WithClock(clock)),
		catalog:      provider.NewCatalog("mock"),
	}
	f.machine = lifecycle.NewMachine(f.store, f.publisher, f.logs.Slog(), lifecycle.WithClock(clock))
	return f
}

func (f *fixture) seed(t *testing.T, status domain.Status, sessionID string) *domain.Order {
	t.Helper()

	order, err := domain.NewOrder(domain.NewOrderParams{
		LineItems: []domain.LineItem{{SKU: "tee-1", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 2}},
		Currency:  "usd",
	}, testNow)
	require.NoError(t, err)

	order.Status = status
	order.Payment.SessionID = sessionID
	if status == domain.StatusAwaitingPayment {
		until := testNow.Add(30 * time.Minute)
		order.ReservedUntil = &until
	}
	require.NoError(t, f.store.Create(context.Background(), order))
	return order
}

func (f *fixture) get(t *testing.T, order *domain.Order) *domain.Order {
	t.Helper()

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	return stored
}

func succeeded(sessionID string) *provider.SessionStatus {
	raw, _ := json.Marshal(map[string]string{"id": sessionID, "status": provider.StatusSucceeded})
	return &provider.SessionStatus{SessionID: sessionID, Status: provider.StatusSucceeded, Raw: raw}
}
