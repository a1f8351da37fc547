package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single ledger row. The ID is the provider-assigned
// transaction id and is the primary key: applying the same delta twice is a
// no-op because upserts key on it.
//
// Amount is signed; negative means a debit by convention.
type Transaction struct {
	ID           string          `json:"id"` // Provider's transaction id (PK)
	AccountID    string          `json:"accountId"`
	UserID       int64           `json:"userId"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	MerchantName string          `json:"merchantName"`
	Category     string          `json:"category"`
	Pending      bool            `json:"pending"`
	RawPayload   []byte          `json:"-"` // Opaque provider payload, never reconciled against
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TransactionFilter narrows ledger reads. Zero values mean "no constraint".
// Results are ordered by date descending, ties broken by transaction id
// ascending so pagination is deterministic.
type TransactionFilter struct {
	UserID        int64
	AccountIDs    []string
	Categories    []string
	MerchantQuery string     // case-insensitive substring match on merchant name
	StartDate     *time.Time // inclusive
	EndDate       *time.Time // exclusive
	Limit         int
	Offset        int
}
