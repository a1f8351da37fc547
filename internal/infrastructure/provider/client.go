package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL   = "https://api.trellis.dev/v1"
	defaultTimeout   = 60 * time.Second
	syncPath         = "/transactions/sync"
	accountsPath     = "/accounts/get"
	defaultPageLimit = 500
)

// Client handles communication with the account-linking provider's API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageLimit  int
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider endpoint (used for sandbox environments
// and tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new provider API client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		pageLimit:  defaultPageLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transaction represents a transaction as delivered by the provider.
// Amounts and balances arrive as strings and are parsed with decimal
// semantics; the raw payload is preserved opaquely for the ledger.
type Transaction struct {
	ID           string  `json:"transaction_id"`
	AccountID    string  `json:"account_id"`
	AmountString string  `json:"amount"`
	DateString   string  `json:"date"` // "2006-01-02"
	MerchantName string  `json:"merchant_name"`
	Category     *string `json:"category"`
	Pending      bool    `json:"pending"`

	raw json.RawMessage
}

// UnmarshalJSON captures the raw payload alongside the typed fields.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type alias Transaction
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Transaction(a)
	t.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Raw returns the original provider payload for this transaction.
func (t *Transaction) Raw() []byte { return t.raw }

// GetAmount parses the amount with decimal semantics.
func (t *Transaction) GetAmount() (decimal.Decimal, error) {
	if t.AmountString == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(t.AmountString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", t.AmountString, err)
	}
	return amount, nil
}

// GetDate parses the transaction date.
func (t *Transaction) GetDate() (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", t.DateString)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", t.DateString, err)
	}
	return parsed, nil
}

// GetCategory returns the category or "uncategorized" when the provider sent
// none.
func (t *Transaction) GetCategory() string {
	if t.Category == nil || *t.Category == "" {
		return "uncategorized"
	}
	return *t.Category
}

// Account represents an account as delivered by the provider.
type Account struct {
	ID                     string `json:"account_id"`
	Name                   string `json:"name"`
	Type                   string `json:"type"`
	Subtype                string `json:"subtype"`
	CurrentBalanceString   string `json:"current_balance"`
	AvailableBalanceString string `json:"available_balance"`
	LimitString            string `json:"limit"`
	CurrencyCode           string `json:"iso_currency_code"`
}

// GetBalances parses current balance, available balance, and limit.
func (a *Account) GetBalances() (current, available, limit decimal.Decimal, err error) {
	parse := func(s, field string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to parse %s %q: %w", field, s, err)
		}
		return d, nil
	}
	if current, err = parse(a.CurrentBalanceString, "current_balance"); err != nil {
		return
	}
	if available, err = parse(a.AvailableBalanceString, "available_balance"); err != nil {
		return
	}
	limit, err = parse(a.LimitString, "limit")
	return
}

// Delta is one page of transaction changes since a cursor.
type Delta struct {
	Added      []Transaction `json:"added"`
	Modified   []Transaction `json:"modified"`
	RemovedIDs []string      `json:"removed_ids"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

type syncRequest struct {
	Cursor string `json:"cursor,omitempty"`
	Count  int    `json:"count"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type errorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// FetchTransactionDelta fetches one page of transaction changes since cursor.
// An empty cursor requests the full history from the beginning.
func (c *Client) FetchTransactionDelta(ctx context.Context, accessToken, cursor string) (*Delta, error) {
	body, err := c.post(ctx, syncPath, accessToken, syncRequest{Cursor: cursor, Count: c.pageLimit})
	if err != nil {
		return nil, err
	}

	var delta Delta
	if err := json.Unmarshal(body, &delta); err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("failed to unmarshal sync response: %w", err)}
	}
	return &delta, nil
}

// GetAccounts fetches the current account set for an item.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	body, err := c.post(ctx, accountsPath, accessToken, struct{}{})
	if err != nil {
		return nil, err
	}

	var resp accountsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("failed to unmarshal accounts response: %w", err)}
	}
	return resp.Accounts, nil
}

func (c *Client) post(ctx context.Context, path, accessToken string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Err: fmt.Errorf("failed to execute request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp, body)
	}
	return body, nil
}

// classifyStatus maps a non-200 response to the error taxonomy: 401/403 are
// credential rejections, 429 carries a Retry-After hint, everything else is
// treated as transient.
func classifyStatus(resp *http.Response, body []byte) error {
	var errResp errorResponse
	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.ErrorCode != "" {
		msg = fmt.Sprintf("%s - %s", errResp.ErrorCode, errResp.ErrorMessage)
	}

	base := fmt.Errorf("API error: %s", msg)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindAuthInvalid, StatusCode: resp.StatusCode, Err: base}
	case http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        base,
		}
	default:
		return &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Err: base}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
