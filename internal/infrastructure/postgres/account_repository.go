package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finsync/internal/models"
)

// ErrAccountNotFound is returned when an account id does not exist.
var ErrAccountNotFound = errors.New("account not found")

type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, item_id, user_id, name, account_type, subtype, current_balance, available_balance, credit_limit, currency_code, created_at, updated_at`

func scanAccount(scan func(dest ...any) error) (*models.Account, error) {
	var acc models.Account
	err := scan(
		&acc.ID, &acc.ItemID, &acc.UserID, &acc.Name,
		&acc.AccountType, &acc.Subtype,
		&acc.CurrentBalance, &acc.AvailableBalance, &acc.CreditLimit,
		&acc.CurrencyCode, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Upsert inserts or refreshes an account (used when syncing from the provider).
func (r *AccountRepository) Upsert(ctx context.Context, params models.UpsertAccountParams) (*models.Account, error) {
	query := `
		INSERT INTO accounts (id, item_id, user_id, name, account_type, subtype,
		                      current_balance, available_balance, credit_limit, currency_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name,
		    account_type = EXCLUDED.account_type,
		    subtype = EXCLUDED.subtype,
		    current_balance = EXCLUDED.current_balance,
		    available_balance = EXCLUDED.available_balance,
		    credit_limit = EXCLUDED.credit_limit,
		    currency_code = EXCLUDED.currency_code,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(
		ctx, query,
		params.ID, params.ItemID, params.UserID, params.Name,
		params.AccountType, params.Subtype,
		params.CurrentBalance, params.AvailableBalance, params.CreditLimit,
		params.CurrencyCode,
	).Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListByUserID retrieves all accounts for a user.
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// ListByItemID retrieves all accounts belonging to an item.
func (r *AccountRepository) ListByItemID(ctx context.Context, itemID string) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE item_id = $1 ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts by item: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}
