// Package migrations applies the database schema. Statements are idempotent
// so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		address    TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bank_transactions (
		id           TEXT PRIMARY KEY,
		address      TEXT NOT NULL,
		kind         TEXT NOT NULL,
		amount       BIGINT NOT NULL,
		counterparty TEXT NOT NULL DEFAULT '',
		ts           TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bank_transactions_address
		ON bank_transactions (address, ts)`,
	`CREATE TABLE IF NOT EXISTS scheduled_payments (
		id                BIGSERIAL PRIMARY KEY,
		sender            TEXT NOT NULL,
		recipient         TEXT NOT NULL,
		amount            BIGINT NOT NULL,
		frequency         BIGINT NOT NULL,
		total_payments    BIGINT NOT NULL DEFAULT 0,
		payments_made     BIGINT NOT NULL DEFAULT 0,
		next_payment_time TIMESTAMPTZ NOT NULL,
		active            BOOLEAN NOT NULL DEFAULT TRUE,
		description       TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_payments_ready
		ON scheduled_payments (next_payment_time) WHERE active`,
	`CREATE TABLE IF NOT EXISTS collateral_positions (
		address          TEXT PRIMARY KEY,
		total_collateral BIGINT NOT NULL DEFAULT 0,
		locked           BIGINT NOT NULL DEFAULT 0,
		total_loans      BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id         BIGSERIAL PRIMARY KEY,
		borrower   TEXT NOT NULL,
		collateral BIGINT NOT NULL,
		principal  BIGINT NOT NULL,
		rate_bps   BIGINT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		due_date   TIMESTAMPTZ NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		liquidated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans (borrower)`,
}

// Apply runs every schema statement in order against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
