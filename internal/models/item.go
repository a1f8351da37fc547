package models

import (
	"time"
)

// Sync status values for an item.
const (
	SyncStatusIdle       = "idle"
	SyncStatusInProgress = "in_progress"
	SyncStatusError      = "error"
)

// Item represents a connection/relationship with a financial institution via the
// provider. One Item can have multiple Accounts (e.g., checking + credit card from
// the same bank).
type Item struct {
	ID              string     `json:"id"` // Provider's itemId (UUID string)
	UserID          int64      `json:"userId"`
	InstitutionName string     `json:"institutionName"`
	AccessToken     string     `json:"-"` // Decrypted provider credential, never serialized
	SyncCursor      *string    `json:"syncCursor,omitempty"` // nil means full resync required
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	LastSyncStatus  string     `json:"lastSyncStatus"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// CreateItemParams contains parameters for linking a new item.
// AccessToken arrives as an opaque credential from the link flow and is
// encrypted before it reaches storage.
type CreateItemParams struct {
	ID              string
	UserID          int64
	InstitutionName string
	AccessToken     string
}
