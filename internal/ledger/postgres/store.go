// Package postgres implements the ledger store on PostgreSQL via pgx.
// Row locks come from SELECT ... FOR UPDATE; lock waits are bounded by a
// per-transaction lock_timeout and surface as domain.ErrContention.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
)

// Store is the Postgres-backed ledger.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds row-lock waits inside Update transactions.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New creates a Store over an existing connection pool.
func New(db *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{db: db, lockTimeout: ledger.DefaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ledger.Store = (*Store)(nil)

// Update runs fn in a single database transaction.
func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	pgTx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	timeoutMs := s.lockTimeout.Milliseconds()
	if _, err := pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeoutMs)); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	if err := fn(&pgLedgerTx{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx ledger.ReadTx) error) error {
	pgTx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&pgLedgerTx{tx: pgTx}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

// mapError translates driver errors into the core taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", domain.ErrContention, err)
		case "23514": // check_violation, e.g. stock_quantity >= 0
			return fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
	}
	return err
}

type pgLedgerTx struct {
	tx pgx.Tx
}

const userColumns = "id, name, email, address, created_at"

func (t *pgLedgerTx) User(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := t.tx.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Address, &u.CreatedAt)
	if err != nil {
		return nil, mapError(fmt.Errorf("get user %s: %w", id, err))
	}
	return &u, nil
}

const productColumns = "id, name, description, price, stock_quantity, created_at, updated_at"

func (t *pgLedgerTx) scanProduct(row pgx.Row, id string) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapError(fmt.Errorf("get product %s: %w", id, err))
	}
	return &p, nil
}

func (t *pgLedgerTx) Product(ctx context.Context, id string) (*domain.Product, error) {
	return t.scanProduct(t.tx.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE id = $1
	`, id), id)
}

func (t *pgLedgerTx) ProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return t.scanProduct(t.tx.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE id = $1
		FOR UPDATE
	`, id), id)
}

const orderColumns = "id, order_number, user_id, order_date, total_amount, status, cancellation_reason, created_at, updated_at"

func (t *pgLedgerTx) scanOrder(row pgx.Row, id string) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.OrderDate, &o.TotalAmount,
		&o.Status, &o.CancellationReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapError(fmt.Errorf("get order %s: %w", id, err))
	}
	return &o, nil
}

func (t *pgLedgerTx) Order(ctx context.Context, id string) (*domain.Order, error) {
	return t.scanOrder(t.tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1
	`, id), id)
}

func (t *pgLedgerTx) OrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return t.scanOrder(t.tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1
		FOR UPDATE
	`, id), id)
}

func (t *pgLedgerTx) OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price_at_order_time, reversed, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list order items for %s: %w", orderID, err))
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity,
			&it.PriceAtOrderTime, &it.Reversed, &it.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *pgLedgerTx) Payments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, payment_date, payment_method, amount, created_at
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, mapError(fmt.Errorf("list payments for %s: %w", orderID, err))
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PaymentDate, &p.PaymentMethod,
			&p.Amount, &p.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *pgLedgerTx) AuditHistory(ctx context.Context, orderID string) ([]domain.AuditEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor, occurred_at
		FROM order_audit_log
		WHERE order_id = $1
		ORDER BY occurred_at, id
	`, orderID)
	if err != nil {
		return nil, mapError(fmt.Errorf("audit history for %s: %w", orderID, err))
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus,
			&e.Actor, &e.OccurredAt); err != nil {
			return nil, mapError(err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *pgLedgerTx) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, name, email, address, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Name, u.Email, u.Address, u.CreatedAt)
	return mapError(err)
}

func (t *pgLedgerTx) CreateProduct(ctx context.Context, p *domain.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products (id, name, description, price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Name, p.Description, p.Price, p.StockQuantity, p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (t *pgLedgerTx) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, order_date, total_amount, status, cancellation_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.OrderNumber, o.UserID, o.OrderDate, o.TotalAmount, o.Status, o.CancellationReason, o.CreatedAt, o.UpdatedAt)
	return mapError(err)
}

func (t *pgLedgerTx) CreateOrderItem(ctx context.Context, it *domain.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, quantity, price_at_order_time, reversed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, it.ID, it.OrderID, it.ProductID, it.Quantity, it.PriceAtOrderTime, it.Reversed, it.CreatedAt)
	return mapError(err)
}

func (t *pgLedgerTx) CreatePayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, payment_date, payment_method, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.OrderID, p.PaymentDate, p.PaymentMethod, p.Amount, p.CreatedAt)
	return mapError(err)
}

func (t *pgLedgerTx) AppendAuditEntry(ctx context.Context, e *domain.AuditEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_audit_log (id, order_id, from_status, to_status, actor, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.OrderID, e.FromStatus, e.ToStatus, e.Actor, e.OccurredAt)
	return mapError(err)
}

func (t *pgLedgerTx) SetProductStock(ctx context.Context, productID string, quantity int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products
		SET stock_quantity = $1, updated_at = NOW()
		WHERE id = $2
	`, quantity, productID)
	if err != nil {
		return mapError(fmt.Errorf("set stock for product %s: %w", productID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgLedgerTx) UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products
		SET price = $1, updated_at = NOW()
		WHERE id = $2
	`, price, productID)
	if err != nil {
		return mapError(fmt.Errorf("set price for product %s: %w", productID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgLedgerTx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, reason string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    cancellation_reason = CASE WHEN $2 = '' THEN cancellation_reason ELSE $2 END,
		    updated_at = NOW()
		WHERE id = $3
	`, status, reason, orderID)
	if err != nil {
		return mapError(fmt.Errorf("update status for order %s: %w", orderID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgLedgerTx) MarkOrderItemReversed(ctx context.Context, itemID string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE order_items
		SET reversed = TRUE
		WHERE id = $1
	`, itemID)
	if err != nil {
		return mapError(fmt.Errorf("mark item %s reversed: %w", itemID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order item %s: %w", itemID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgLedgerTx) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('order_numbers')`).Scan(&n); err != nil {
		return 0, mapError(fmt.Errorf("next order number: %w", err))
	}
	return n, nil
}
