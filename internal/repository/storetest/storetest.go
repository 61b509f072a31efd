// Package storetest holds behaviour checks shared by every repository.Store backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

// Factory returns an empty store for a single test.
type Factory func(t *testing.T) repository.Store

// NewOrder builds a valid created order for store tests.
func NewOrder(t *testing.T, userID string) *domain.Order {
	t.Helper()

	order, err := domain.NewOrder(domain.NewOrderParams{
		UserID: userID,
		LineItems: []domain.LineItem{
			{SKU: "tee-1", Title: "Tee", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 2},
		},
		Currency: "usd",
		Metadata: map[string]any{"source": "web"},
	}, time.Now().Truncate(time.Millisecond))
	require.NoError(t, err)
	return order
}

// Run executes the shared store checks against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Create and Get", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("Update serializes writers", func(t *testing.T) { testConcurrentUpdate(t, newStore(t)) })
	t.Run("FindBySessionID", func(t *testing.T) { testFindBySessionID(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ListLapsed", func(t *testing.T) { testListLapsed(t, newStore(t)) })
	t.Run("EventLog", func(t *testing.T) { testEventLog(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, store repository.Store) {
	ctx := context.Background()
	order := NewOrder(t, "user-1")

	require.NoError(t, store.Create(ctx, order))

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.True(t, order.Total.Equal(got.Total), "total %s != %s", order.Total, got.Total)
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, domain.StatusCreated, got.Status)
	assert.Equal(t, "tee-1", got.LineItems[0].SKU)
	assert.Equal(t, 2, got.LineItems[0].Quantity)
	assert.Equal(t, "web", got.Metadata["source"])
	assert.Empty(t, got.Payment.Attempts)
	assert.Nil(t, got.ReservedUntil)

	_, err = store.Get(ctx, uuid.New())
	assert.True(t, repository.IsNotFound(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, store.Create(cancelled, NewOrder(t, "")))
}

func testUpdate(t *testing.T, store repository.Store) {
	ctx := context.Background()
	order := NewOrder(t, "")
	require.NoError(t, store.Create(ctx, order))

	reserved := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Millisecond)
	updated, err := store.Update(ctx, order.ID, func(o *domain.Order) error {
		o.Status = domain.StatusAwaitingPayment
		o.ReservedUntil = &reserved
		o.Payment.SessionID = "sess_1"
		o.Payment.Method = &domain.MethodRef{ID: "card", Provider: "dev", Label: "Credit / Debit Card"}
		o.Payment.Attempts = append(o.Payment.Attempts, domain.PaymentAttempt{
			ID:         "sess_1",
			Provider:   "dev",
			Response:   json.RawMessage(`{"status":"succeeded"}`),
			Status:     "succeeded",
			RecordedAt: reserved,
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, updated.Status)
	assert.Equal(t, order.Version+1, updated.Version)
	assert.False(t, updated.UpdatedAt.Before(order.UpdatedAt))

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, got.Status)
	require.NotNil(t, got.ReservedUntil)
	assert.True(t, reserved.Equal(*got.ReservedUntil))
	assert.Equal(t, "sess_1", got.Payment.SessionID)
	assert.Equal(t, "card", got.Payment.Method.ID)
	require.Len(t, got.Payment.Attempts, 1)
	assert.JSONEq(t, `{"status":"succeeded"}`, string(got.Payment.Attempts[0].Response))

	skipped, err := store.Update(ctx, order.ID, func(o *domain.Order) error {
		o.Status = domain.StatusCancelled
		return repository.ErrSkipUpdate
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, skipped.Status)
	assert.Equal(t, updated.Version, skipped.Version)

	mutateErr := errors.New("rejected")
	_, err = store.Update(ctx, order.ID, func(o *domain.Order) error {
		o.Status = domain.StatusCancelled
		return mutateErr
	})
	assert.ErrorIs(t, err, mutateErr)

	got, err = store.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingPayment, got.Status)

	_, err = store.Update(ctx, uuid.New(), func(*domain.Order) error { return nil })
	assert.True(t, repository.IsNotFound(err))
}

func testConcurrentUpdate(t *testing.T, store repository.Store) {
	ctx := context.Background()
	order := NewOrder(t, "")
	require.NoError(t, store.Create(ctx, order))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, order.ID, func(o *domain.Order) error {
				o.Payment.Attempts = append(o.Payment.Attempts, domain.PaymentAttempt{
					ID:     uuid.NewString(),
					Status: "failed",
				})
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, got.Payment.Attempts, writers)
	assert.Equal(t, order.Version+writers, got.Version)
}

func testFindBySessionID(t *testing.T, store repository.Store) {
	ctx := context.Background()
	order := NewOrder(t, "")
	require.NoError(t, store.Create(ctx, order))

	_, err := store.FindBySessionID(ctx, "sess_1")
	assert.True(t, repository.IsNotFound(err))

	_, err = store.Update(ctx, order.ID, func(o *domain.Order) error {
		o.Payment.SessionID = "sess_1"
		return nil
	})
	require.NoError(t, err)

	got, err := store.FindBySessionID(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = store.Update(ctx, order.ID, func(o *domain.Order) error {
		o.Payment.SessionID = "sess_2"
		return nil
	})
	require.NoError(t, err)

	_, err = store.FindBySessionID(ctx, "sess_1")
	assert.True(t, repository.IsNotFound(err))

	got, err = store.FindBySessionID(ctx, "sess_2")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func testList(t *testing.T, store repository.Store) {
	ctx := context.Background()

	first := NewOrder(t, "user-1")
	second := NewOrder(t, "user-1")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	other := NewOrder(t, "user-2")
	other.Status = domain.StatusPaid
	for _, o := range []*domain.Order{first, second, other} {
		require.NoError(t, store.Create(ctx, o))
	}

	testCases := map[string]struct {
		filter      repository.ListFilter
		expectedIDs []uuid.UUID
	}{
		"should list orders of a user newest first": {
			filter:      repository.ListFilter{UserID: "user-1"},
			expectedIDs: []uuid.UUID{second.ID, first.ID},
		},
		"should filter by status": {
			filter:      repository.ListFilter{Status: domain.StatusPaid},
			expectedIDs: []uuid.UUID{other.ID},
		},
		"should apply limit": {
			filter:      repository.ListFilter{UserID: "user-1", Limit: 1},
			expectedIDs: []uuid.UUID{second.ID},
		},
		"should return empty result": {
			filter:      repository.ListFilter{UserID: "nobody"},
			expectedIDs: []uuid.UUID{},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			orders, err := store.List(ctx, tc.filter)
			require.NoError(t, err)

			ids := make([]uuid.UUID, 0, len(orders))
			for _, o := range orders {
				ids = append(ids, o.ID)
			}
			assert.Equal(t, tc.expectedIDs, ids)
		})
	}
}

func testListLapsed(t *testing.T, store repository.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	reserve := func(status domain.Status, until time.Time) *domain.Order {
		o := NewOrder(t, "")
		o.Status = status
		o.ReservedUntil = &until
		require.NoError(t, store.Create(ctx, o))
		return o
	}

	oldest := reserve(domain.StatusAwaitingPayment, now.Add(-2*time.Hour))
	lapsed := reserve(domain.StatusAwaitingPayment, now.Add(-time.Minute))
	reserve(domain.StatusAwaitingPayment, now.Add(time.Hour))
	reserve(domain.StatusPaid, now.Add(-time.Hour))
	reserve(domain.StatusCancelled, now.Add(-time.Hour))

	orders, err := store.ListLapsed(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, oldest.ID, orders[0].ID)
	assert.Equal(t, lapsed.ID, orders[1].ID)

	orders, err = store.ListLapsed(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, oldest.ID, orders[0].ID)
}

func testEventLog(t *testing.T, store repository.Store) {
	ctx := context.Background()

	processed, err := store.EventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, store.RecordEvent(ctx, "evt_1", "payment_intent.succeeded"))
	require.NoError(t, store.RecordEvent(ctx, "evt_1", "payment_intent.succeeded"))

	processed, err = store.EventProcessed(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = store.EventProcessed(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, processed)
}
