package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a financial account belonging to an item.
// Accounts are refreshed from the provider on every sync; their lifecycle is
// tied to the item (unlink cascades).
type Account struct {
	ID               string          `json:"id"`
	ItemID           string          `json:"itemId"`
	UserID           int64           `json:"userId"`
	Name             string          `json:"name"`
	AccountType      string          `json:"type"`    // e.g. "depository", "credit"
	Subtype          string          `json:"subtype"` // e.g. "checking", "credit card"
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	CreditLimit      decimal.Decimal `json:"creditLimit"`
	CurrencyCode     string          `json:"currencyCode"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// UpsertAccountParams is used when refreshing accounts from the provider.
type UpsertAccountParams struct {
	ID               string
	ItemID           string
	UserID           int64
	Name             string
	AccountType      string
	Subtype          string
	CurrentBalance   decimal.Decimal
	AvailableBalance decimal.Decimal
	CreditLimit      decimal.Decimal
	CurrencyCode     string
}
