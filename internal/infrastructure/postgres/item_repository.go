package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsync/internal/infrastructure/crypto"
	"finsync/internal/models"
)

// ErrItemNotFound is returned when an item id does not exist.
var ErrItemNotFound = errors.New("item not found")

// ItemRepository persists items. It is also the credential store: access
// tokens are encrypted before they touch a row and decrypted on read.
type ItemRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

func NewItemRepository(db *DB, encryptor *crypto.Encryptor) *ItemRepository {
	return &ItemRepository{db: db, encryptor: encryptor}
}

const itemColumns = `id, user_id, institution_name, access_token_encrypted, sync_cursor, last_synced_at, last_sync_status, created_at, updated_at`

func (r *ItemRepository) scanItem(scan func(dest ...any) error) (*models.Item, error) {
	var item models.Item
	var encrypted string
	var cursor sql.NullString
	var syncedAt sql.NullTime

	err := scan(
		&item.ID, &item.UserID, &item.InstitutionName, &encrypted,
		&cursor, &syncedAt, &item.LastSyncStatus,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if cursor.Valid {
		item.SyncCursor = &cursor.String
	}
	if syncedAt.Valid {
		item.LastSyncedAt = &syncedAt.Time
	}

	token, err := r.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for item %s: %w", item.ID, err)
	}
	item.AccessToken = token

	return &item, nil
}

// Create links a new item. On conflict the existing row's ownership is
// preserved; only the credential and institution name are refreshed, covering
// the re-link flow after a credential rotation.
func (r *ItemRepository) Create(ctx context.Context, params models.CreateItemParams) (*models.Item, error) {
	encrypted, err := r.encryptor.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `
		INSERT INTO items (id, user_id, institution_name, access_token_encrypted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    institution_name = EXCLUDED.institution_name,
		    access_token_encrypted = EXCLUDED.access_token_encrypted,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING ` + itemColumns

	item, err := r.scanItem(r.db.QueryRowContext(ctx, query, params.ID, params.UserID, params.InstitutionName, encrypted).Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

// GetByID retrieves an item with its decrypted credential.
func (r *ItemRepository) GetByID(ctx context.Context, id string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	item, err := r.scanItem(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListByUserID retrieves all items for a user.
func (r *ItemRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := r.scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

// ListUserIDs returns the distinct users that have at least one linked item.
// Used by the background scheduler to build its job batch.
func (r *ItemRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM items ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list item users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}
	return ids, nil
}

// SetSyncStatus updates an item's sync status. A non-nil syncedAt also
// records the completion time.
func (r *ItemRepository) SetSyncStatus(ctx context.Context, id, status string, syncedAt *time.Time) error {
	query := `
		UPDATE items
		SET last_sync_status = $1,
		    last_synced_at = COALESCE($2, last_synced_at),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, syncedAt, id)
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ResetCursor clears the sync cursor, forcing the next sync to pull the full
// history. Safe because delta application is idempotent.
func (r *ItemRepository) ResetCursor(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE items SET sync_cursor = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Delete unlinks an item. Accounts and transactions cascade via foreign keys.
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrItemNotFound
	}
	return nil
}
