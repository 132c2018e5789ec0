package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the idempotent bootstrap for the core's own tables. General
// schema migration tooling stays out of scope; this only brings a fresh
// database to the shape the store expects.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		email      TEXT NOT NULL UNIQUE,
		address    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		price          NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock_quantity INT NOT NULL CHECK (stock_quantity >= 0),
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE SEQUENCE IF NOT EXISTS order_numbers START 1`,

	`CREATE TABLE IF NOT EXISTS orders (
		id                  TEXT PRIMARY KEY,
		order_number        BIGINT NOT NULL UNIQUE,
		user_id             TEXT NOT NULL REFERENCES users (id),
		order_date          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		total_amount        NUMERIC(12,2) NOT NULL,
		status              TEXT NOT NULL DEFAULT 'pending',
		cancellation_reason TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id                  TEXT PRIMARY KEY,
		order_id            TEXT NOT NULL REFERENCES orders (id),
		product_id          TEXT NOT NULL REFERENCES products (id),
		quantity            INT NOT NULL CHECK (quantity > 0),
		price_at_order_time NUMERIC(12,2) NOT NULL,
		reversed            BOOLEAN NOT NULL DEFAULT FALSE,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items (order_id)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id             TEXT PRIMARY KEY,
		order_id       TEXT NOT NULL REFERENCES orders (id),
		payment_date   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		payment_method TEXT NOT NULL DEFAULT '',
		amount         NUMERIC(12,2) NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments (order_id)`,

	`CREATE TABLE IF NOT EXISTS order_audit_log (
		id          TEXT PRIMARY KEY,
		order_id    TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status   TEXT NOT NULL,
		actor       TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_order_audit_log_order_id ON order_audit_log (order_id, occurred_at)`,
}

// Migrate applies the schema bootstrap.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
