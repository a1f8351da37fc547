package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"finsync/internal/models"
)

// TransactionRepository is the ledger store. Rows are keyed by the
// provider-assigned transaction id, so re-applying a delta page is a no-op.
type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, account_id, user_id, amount, date, merchant_name, category, pending, raw_payload, created_at, updated_at`

const upsertTransactionQuery = `
	INSERT INTO transactions (id, account_id, user_id, amount, date, merchant_name, category, pending, raw_payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
	    account_id = EXCLUDED.account_id,
	    amount = EXCLUDED.amount,
	    date = EXCLUDED.date,
	    merchant_name = EXCLUDED.merchant_name,
	    category = EXCLUDED.category,
	    pending = EXCLUDED.pending,
	    raw_payload = EXCLUDED.raw_payload,
	    updated_at = CURRENT_TIMESTAMP
`

func scanTransaction(scan func(dest ...any) error) (*models.Transaction, error) {
	var tx models.Transaction
	var raw sql.NullString

	err := scan(
		&tx.ID, &tx.AccountID, &tx.UserID, &tx.Amount, &tx.Date,
		&tx.MerchantName, &tx.Category, &tx.Pending, &raw,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if raw.Valid {
		tx.RawPayload = []byte(raw.String)
	}
	return &tx, nil
}

// ApplyDelta applies one provider page to the ledger and advances the item's
// cursor in the same database transaction. Either the whole page plus the
// cursor commits, or none of it does — that is what makes a crash between
// pages safe to resume from.
//
// Upserts tolerate replays (insert-or-replace by id); removals of unknown ids
// are not an error, and removals only ever touch rows under the item's own
// accounts. Returns the number of rows actually deleted.
func (r *TransactionRepository) ApplyDelta(ctx context.Context, itemID string, upserts []models.Transaction, removedIDs []string, nextCursor string) (int64, error) {
	var deleted int64

	err := r.db.WithinTx(ctx, "ledger.ApplyDelta", func(tx *sql.Tx) error {
		for i := range upserts {
			t := &upserts[i]
			var raw any
			if len(t.RawPayload) > 0 {
				raw = string(t.RawPayload)
			}
			if _, err := tx.ExecContext(ctx, upsertTransactionQuery,
				t.ID, t.AccountID, t.UserID, t.Amount, t.Date,
				t.MerchantName, t.Category, t.Pending, raw,
			); err != nil {
				return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
			}
		}

		if len(removedIDs) > 0 {
			// Scoped to the item so a bad provider page cannot remove rows
			// belonging to someone else's accounts.
			result, err := tx.ExecContext(ctx,
				`DELETE FROM transactions
				 WHERE id = ANY($1)
				   AND account_id IN (SELECT id FROM accounts WHERE item_id = $2)`,
				pq.Array(removedIDs), itemID)
			if err != nil {
				return fmt.Errorf("failed to delete transactions: %w", err)
			}
			if n, err := result.RowsAffected(); err == nil {
				deleted = n
			}
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE items SET sync_cursor = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
			nextCursor, itemID)
		if err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return ErrItemNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// GetByID retrieves a transaction by its provider id. Returns nil when not
// found.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// List returns ledger rows matching the filter, ordered by date descending
// with ties broken by id ascending so pagination is deterministic.
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var conditions []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions = append(conditions, "user_id = "+arg(filter.UserID))
	if len(filter.AccountIDs) > 0 {
		conditions = append(conditions, "account_id = ANY("+arg(pq.Array(filter.AccountIDs))+")")
	}
	if len(filter.Categories) > 0 {
		conditions = append(conditions, "category = ANY("+arg(pq.Array(filter.Categories))+")")
	}
	if filter.MerchantQuery != "" {
		conditions = append(conditions, "merchant_name ILIKE "+arg("%"+filter.MerchantQuery+"%"))
	}
	if filter.StartDate != nil {
		conditions = append(conditions, "date >= "+arg(*filter.StartDate))
	}
	if filter.EndDate != nil {
		conditions = append(conditions, "date < "+arg(*filter.EndDate))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY date DESC, id ASC`

	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// CountByUserID returns the ledger size for a user, used for list pagination
// metadata.
func (r *TransactionRepository) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
