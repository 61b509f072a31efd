package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	// registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

const (
	timeLayout = time.RFC3339Nano

	schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT '',
	guest_token        TEXT NOT NULL DEFAULT '',
	line_items         TEXT NOT NULL,
	total              TEXT NOT NULL,
	currency           TEXT NOT NULL,
	status             TEXT NOT NULL,
	payment            TEXT NOT NULL,
	payment_session_id TEXT,
	reserved_until     TEXT,
	reserved_until_ns  INTEGER,
	metadata           TEXT,
	created_at         TEXT NOT NULL,
	created_at_ns      INTEGER NOT NULL,
	updated_at         TEXT NOT NULL,
	version            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS orders_payment_session_id_idx ON orders (payment_session_id);
CREATE INDEX IF NOT EXISTS orders_status_reserved_until_idx ON orders (status, reserved_until_ns);
CREATE TABLE IF NOT EXISTS webhook_events (
	event_id     TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	processed_at TEXT NOT NULL
);`

	selectOrder = `SELECT id, user_id, guest_token, line_items, total, currency, status, payment,
reserved_until, metadata, created_at, updated_at, version FROM orders`
)

// OrderRepository stores orders in a SQLite database file. Transactions are
// opened with BEGIN IMMEDIATE so concurrent writers queue on the database lock.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path with the connection
// settings OrderRepository relies on.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open_sqlite: %w", err)
	}
	return db, nil
}

// NewOrderRepository creates a new OrderRepository instance
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

// EnsureSchema creates the tables and indexes when missing.
func (r *OrderRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure_schema: %w", err)
	}
	return nil
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	docs, err := repository.EncodeDocuments(order)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO orders (id, user_id, guest_token, line_items, total, currency,
status, payment, payment_session_id, reserved_until, reserved_until_ns, metadata, created_at, created_at_ns,
updated_at, version) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID.String(), order.UserID, order.GuestToken, string(docs.LineItems), order.Total.String(),
		order.Currency, string(order.Status), string(docs.Payment), nullString(order.Payment.SessionID),
		nullTime(order.ReservedUntil), nullUnixNano(order.ReservedUntil), nullBytes(docs.Metadata),
		formatTime(order.CreatedAt), order.CreatedAt.UnixNano(), formatTime(order.UpdatedAt), order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// Get retrieves an order by its ID from the database
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+" WHERE id = ?", id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.OrderNotFound(id)
		}
		return nil, fmt.Errorf("failed to retrieve order with id %s: %w", id, err)
	}
	return order, nil
}

// Update applies mutate inside an immediate transaction.
func (r *OrderRepository) Update(
	ctx context.Context,
	id uuid.UUID,
	mutate repository.Mutation,
) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	order, err := scanOrder(tx.QueryRowContext(ctx, selectOrder+" WHERE id = ?", id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

	_, err = tx.ExecContext(ctx, `UPDATE orders SET user_id = ?, guest_token = ?, line_items = ?, total = ?,
currency = ?, status = ?, payment = ?, payment_session_id = ?, reserved_until = ?, reserved_until_ns = ?,
metadata = ?, updated_at = ?, version = ? WHERE id = ?`,
		order.UserID, order.GuestToken, string(docs.LineItems), order.Total.String(), order.Currency,
		string(order.Status), string(docs.Payment), nullString(order.Payment.SessionID),
		nullTime(order.ReservedUntil), nullUnixNano(order.ReservedUntil), nullBytes(docs.Metadata),
		formatTime(order.UpdatedAt), order.Version, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order %s: %w", id, err)
	}

	return order, nil
}

// FindBySessionID returns the order bound to a payment session.
func (r *OrderRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+" WHERE payment_session_id = ?", sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := selectOrder
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at_ns DESC, id LIMIT ?"
	args = append(args, filter.EffectiveLimit())

	return r.query(ctx, query, args...)
}

// ListLapsed returns awaiting_payment orders whose reservation ended before the cutoff.
func (r *OrderRepository) ListLapsed(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	return r.query(ctx,
		selectOrder+" WHERE status = ? AND reserved_until_ns < ? ORDER BY reserved_until_ns, id LIMIT ?",
		string(domain.StatusAwaitingPayment), before.UnixNano(), limit,
	)
}

// EventProcessed reports whether the webhook event was recorded.
func (r *OrderRepository) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = ?)", eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check webhook event %s: %w", eventID, err)
	}
	return exists, nil
}

// RecordEvent marks the webhook event as processed.
func (r *OrderRepository) RecordEvent(ctx context.Context, eventID, eventType string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO webhook_events (event_id, event_type, processed_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType, formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", eventID, err)
	}
	return nil
}

func (r *OrderRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		order                   domain.Order
		id, total, status       string
		lineItems, payment      string
		reservedUntil, metadata sql.NullString
		createdAt, updatedAt    string
	)

	err := row.Scan(&id, &order.UserID, &order.GuestToken, &lineItems, &total, &order.Currency, &status,
		&payment, &reservedUntil, &metadata, &createdAt, &updatedAt, &order.Version)
	if err != nil {
		return nil, err
	}

	if order.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse order id %q: %w", id, err)
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total for order %s: %w", id, err)
	}
	order.Status = domain.Status(status)
	if order.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for order %s: %w", id, err)
	}
	if order.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for order %s: %w", id, err)
	}
	if reservedUntil.Valid {
		t, err := time.Parse(timeLayout, reservedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parse reserved_until for order %s: %w", id, err)
		}
		order.ReservedUntil = &t
	}

	docs := &repository.Documents{LineItems: []byte(lineItems), Payment: []byte(payment)}
	if metadata.Valid {
		docs.Metadata = []byte(metadata.String)
	}
	if err := docs.Decode(&order); err != nil {
		return nil, err
	}

	return &order, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullUnixNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
