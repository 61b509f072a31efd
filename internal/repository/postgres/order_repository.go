package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

const (
	schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 uuid PRIMARY KEY,
	user_id            text NOT NULL DEFAULT '',
	guest_token        text NOT NULL DEFAULT '',
	line_items         jsonb NOT NULL,
	total              numeric(20, 4) NOT NULL CHECK (total >= 0),
	currency           char(3) NOT NULL,
	status             text NOT NULL,
	payment            jsonb NOT NULL,
	payment_session_id text,
	reserved_until     timestamptz,
	metadata           jsonb,
	created_at         timestamptz NOT NULL,
	updated_at         timestamptz NOT NULL,
	version            bigint NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS orders_payment_session_id_idx ON orders (payment_session_id);
CREATE INDEX IF NOT EXISTS orders_status_reserved_until_idx ON orders (status, reserved_until);
CREATE INDEX IF NOT EXISTS orders_user_id_created_at_idx ON orders (user_id, created_at DESC);
CREATE TABLE IF NOT EXISTS webhook_events (
	event_id     text PRIMARY KEY,
	event_type   text NOT NULL,
	processed_at timestamptz NOT NULL DEFAULT now()
);`

	selectOrder = `SELECT id, user_id, guest_token, line_items, total::text, currency, status, payment,
reserved_until, metadata, created_at, updated_at, version FROM orders`
)

// OrderRepository provides database operations for orders
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository creates a new OrderRepository instance
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{
		pool: pool,
		now:  time.Now,
	}
}

// EnsureSchema creates the tables and indexes when missing.
func (r *OrderRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure_schema: %w", err)
	}
	return nil
}

// Create creates a new order in the database
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	docs, err := repository.EncodeDocuments(order)
	if err != nil {
		return err
	}

	query := `INSERT INTO orders (id, user_id, guest_token, line_items, total, currency, status, payment,
payment_session_id, reserved_until, metadata, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		order.ID, order.UserID, order.GuestToken, docs.LineItems, order.Total.String(), order.Currency,
		string(order.Status), docs.Payment, nullString(order.Payment.SessionID), order.ReservedUntil,
		docs.Metadata, order.CreatedAt, order.UpdatedAt, order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// Get retrieves an order by its ID from the database
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, selectOrder+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.OrderNotFound(id)
		}
		return nil, fmt.Errorf("failed to retrieve order with id %s: %w", id, err)
	}

	return order, nil
}

// Update locks the order row with SELECT ... FOR UPDATE, applies mutate and
// writes the result back in the same transaction.
func (r *OrderRepository) Update(
	ctx context.Context,
	id uuid.UUID,
	mutate repository.Mutation,
) (*domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := scanOrder(tx.QueryRow(ctx, selectOrder+" WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.OrderNotFound(id)
		}
		return nil, fmt.Errorf("lock order %s: %w", id, err)
	}

	current := order.Clone()
	if err := mutate(order); err != nil {
		if errors.Is(err, repository.ErrSkipUpdate) {
			return current, nil
		}
		return nil, err
	}

	order.ID = current.ID
	order.CreatedAt = current.CreatedAt
	order.UpdatedAt = r.now().UTC()
	order.Version = current.Version + 1

	docs, err := repository.EncodeDocuments(order)
	if err != nil {
		return nil, err
	}

	query := `UPDATE orders SET user_id = $2, guest_token = $3, line_items = $4, total = $5::numeric,
currency = $6, status = $7, payment = $8, payment_session_id = $9, reserved_until = $10, metadata = $11,
updated_at = $12, version = $13 WHERE id = $1`

	_, err = tx.Exec(ctx, query,
		id, order.UserID, order.GuestToken, docs.LineItems, order.Total.String(), order.Currency,
		string(order.Status), docs.Payment, nullString(order.Payment.SessionID), order.ReservedUntil,
		docs.Metadata, order.UpdatedAt, order.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit order %s: %w", id, err)
	}

	return order, nil
}

// FindBySessionID returns the order bound to a payment session.
func (r *OrderRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, selectOrder+" WHERE payment_session_id = $1", sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.SessionNotFound(sessionID)
		}
		return nil, fmt.Errorf("find order by session %s: %w", sessionID, err)
	}

	return order, nil
}

// List returns matching orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Order, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := selectOrder
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d", len(args))

	return r.query(ctx, query, args...)
}

// ListLapsed returns awaiting_payment orders whose reservation ended before the cutoff.
func (r *OrderRepository) ListLapsed(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return r.query(ctx,
		selectOrder+" WHERE status = $1 AND reserved_until < $2 ORDER BY reserved_until, id LIMIT $3",
		string(domain.StatusAwaitingPayment), before, limit,
	)
}

// EventProcessed reports whether the webhook event was recorded.
func (r *OrderRepository) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)", eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check webhook event %s: %w", eventID, err)
	}
	return exists, nil
}

// RecordEvent marks the webhook event as processed.
func (r *OrderRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO webhook_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType,
	)
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", eventID, err)
	}
	return nil
}

func (r *OrderRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  string
		docs   repository.Documents
	)

	err := row.Scan(&order.ID, &order.UserID, &order.GuestToken, &docs.LineItems, &total, &order.Currency,
		&status, &docs.Payment, &order.ReservedUntil, &docs.Metadata, &order.CreatedAt, &order.UpdatedAt,
		&order.Version)
	if err != nil {
		return nil, err
	}

	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total for order %s: %w", order.ID, err)
	}
	order.Status = domain.Status(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if order.ReservedUntil != nil {
		t := order.ReservedUntil.UTC()
		order.ReservedUntil = &t
	}

	if err := docs.Decode(&order); err != nil {
		return nil, err
	}

	return &order, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
