package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/repository"
	"github.com/CameronXie/payment-lifecycle/internal/repository/storetest"
)

func TestOrderRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return setupTestRepository(t)
	})
}

func TestOrderRepository_EnsureSchemaIsIdempotent(t *testing.T) {
	repo := setupTestRepository(t)
	assert.NoError(t, repo.EnsureSchema(context.Background()))
}

func setupTestRepository(t *testing.T) *OrderRepository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewOrderRepository(db)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}
