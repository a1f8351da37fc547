package provider

import "context"

// ClientInterface defines the contract for provider operations.
// This allows for mocking in tests.
type ClientInterface interface {
	FetchTransactionDelta(ctx context.Context, accessToken, cursor string) (*Delta, error)
	GetAccounts(ctx context.Context, accessToken string) ([]Account, error)
}
