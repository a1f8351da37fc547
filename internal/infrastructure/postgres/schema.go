package postgres

import (
	"context"
	"fmt"
	"log"
)

// schema is applied on startup. Every statement is idempotent so restarting
// against an existing database is safe.
const schema = `
CREATE TABLE IF NOT EXISTS items (
    id                     TEXT PRIMARY KEY,
    user_id                BIGINT NOT NULL,
    institution_name       TEXT NOT NULL DEFAULT '',
    access_token_encrypted TEXT NOT NULL,
    sync_cursor            TEXT,
    last_synced_at         TIMESTAMPTZ,
    last_sync_status       TEXT NOT NULL DEFAULT 'idle',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_items_user_id ON items(user_id);

CREATE TABLE IF NOT EXISTS accounts (
    id                TEXT PRIMARY KEY,
    item_id           TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    user_id           BIGINT NOT NULL,
    name              TEXT NOT NULL,
    account_type      TEXT NOT NULL DEFAULT '',
    subtype           TEXT NOT NULL DEFAULT '',
    current_balance   NUMERIC(14,2) NOT NULL DEFAULT 0,
    available_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
    credit_limit      NUMERIC(14,2) NOT NULL DEFAULT 0,
    currency_code     TEXT NOT NULL DEFAULT 'USD',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_accounts_item_id ON accounts(item_id);
CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);

CREATE TABLE IF NOT EXISTS transactions (
    id            TEXT PRIMARY KEY,
    account_id    TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    user_id       BIGINT NOT NULL,
    amount        NUMERIC(14,2) NOT NULL,
    date          DATE NOT NULL,
    merchant_name TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT 'uncategorized',
    pending       BOOLEAN NOT NULL DEFAULT FALSE,
    raw_payload   JSONB,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date DESC, id ASC);
CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(user_id, category);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Println("Database schema applied")
	return nil
}
