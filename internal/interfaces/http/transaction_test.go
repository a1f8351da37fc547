package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finsync/internal/models"
	"finsync/internal/shared/middleware"
)

// MockTransactionStore implements TransactionStore for testing
type MockTransactionStore struct {
	ListFunc          func(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
	CountByUserIDFunc func(ctx context.Context, userID int64) (int64, error)
}

func (m *MockTransactionStore) List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return nil, nil
}

func (m *MockTransactionStore) CountByUserID(ctx context.Context, userID int64) (int64, error) {
	if m.CountByUserIDFunc != nil {
		return m.CountByUserIDFunc(ctx, userID)
	}
	return 0, nil
}

func requestWithUser(r *http.Request, userID int64) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, userID)
	return r.WithContext(ctx)
}

func TestHandleListTransactions(t *testing.T) {
	tests := []struct {
		name           string
		url            string
		withUser       bool
		expectedStatus int
		checkFilter    func(t *testing.T, filter models.TransactionFilter)
	}{
		{
			name:           "Success with defaults",
			url:            "/api/transactions",
			withUser:       true,
			expectedStatus: http.StatusOK,
			checkFilter: func(t *testing.T, filter models.TransactionFilter) {
				if filter.UserID != 1 {
					t.Errorf("filter.UserID = %d, want 1", filter.UserID)
				}
				if filter.Limit != 50 {
					t.Errorf("filter.Limit = %d, want default 50", filter.Limit)
				}
			},
		},
		{
			name:           "Full filter set",
			url:            "/api/transactions?startDate=2026-08-01&endDate=2026-09-01&accounts=a1,a2&categories=groceries&merchant=cafe&limit=10&offset=20",
			withUser:       true,
			expectedStatus: http.StatusOK,
			checkFilter: func(t *testing.T, filter models.TransactionFilter) {
				if filter.StartDate == nil || filter.EndDate == nil {
					t.Fatal("date range not parsed")
				}
				if len(filter.AccountIDs) != 2 || len(filter.Categories) != 1 {
					t.Errorf("account/category filters not parsed: %+v", filter)
				}
				if filter.MerchantQuery != "cafe" {
					t.Errorf("MerchantQuery = %q, want cafe", filter.MerchantQuery)
				}
				if filter.Limit != 10 || filter.Offset != 20 {
					t.Errorf("pagination = %d/%d, want 10/20", filter.Limit, filter.Offset)
				}
			},
		},
		{
			name:           "Invalid date",
			url:            "/api/transactions?startDate=08-01-2026",
			withUser:       true,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unauthorized",
			url:            "/api/transactions",
			withUser:       false,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotFilter models.TransactionFilter
			store := &MockTransactionStore{
				ListFunc: func(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
					gotFilter = filter
					return []*models.Transaction{{ID: "tx-1", UserID: filter.UserID}}, nil
				},
				CountByUserIDFunc: func(ctx context.Context, userID int64) (int64, error) {
					return 1, nil
				},
			}
			handler := NewTransactionHandler(store)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.withUser {
				req = requestWithUser(req, 1)
			}
			rr := httptest.NewRecorder()

			handler.HandleListTransactions(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if tt.checkFilter != nil {
				tt.checkFilter(t, gotFilter)
			}
			if tt.expectedStatus == http.StatusOK {
				var resp listTransactionsResponse
				if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
					t.Fatalf("invalid response body: %v", err)
				}
				if resp.Total != 1 || len(resp.Transactions) != 1 {
					t.Errorf("response = %+v, want one transaction, total 1", resp)
				}
			}
		})
	}
}

func TestHandleListTransactions_MethodNotAllowed(t *testing.T) {
	handler := NewTransactionHandler(&MockTransactionStore{})

	req := requestWithUser(httptest.NewRequest(http.MethodPost, "/api/transactions", nil), 1)
	rr := httptest.NewRecorder()

	handler.HandleListTransactions(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}
