package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finsync/internal/models"
	"finsync/internal/shared/middleware"
)

// TransactionStore is the ledger read surface the handler needs.
type TransactionStore interface {
	List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
	CountByUserID(ctx context.Context, userID int64) (int64, error)
}

type TransactionHandler struct {
	transactions TransactionStore
}

func NewTransactionHandler(transactions TransactionStore) *TransactionHandler {
	return &TransactionHandler{transactions: transactions}
}

type listTransactionsResponse struct {
	Transactions []*models.Transaction `json:"transactions"`
	Total        int64                 `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// HandleListTransactions returns the user's ledger rows, newest first.
// Supported query parameters: startDate, endDate (YYYY-MM-DD, endDate
// exclusive), accounts and categories (comma-separated), merchant (substring
// match), limit, offset.
func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filter := models.TransactionFilter{
		UserID:        userID,
		MerchantQuery: r.URL.Query().Get("merchant"),
		Limit:         50,
	}

	if accounts := r.URL.Query().Get("accounts"); accounts != "" {
		filter.AccountIDs = splitList(accounts)
	}
	if categories := r.URL.Query().Get("categories"); categories != "" {
		filter.Categories = splitList(categories)
	}

	if startStr := r.URL.Query().Get("startDate"); startStr != "" {
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			http.Error(w, "Invalid startDate, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.StartDate = &start
	}
	if endStr := r.URL.Query().Get("endDate"); endStr != "" {
		end, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			http.Error(w, "Invalid endDate, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.EndDate = &end
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 500 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	transactions, err := h.transactions.List(r.Context(), filter)
	if err != nil {
		log.Printf("Error listing transactions for user %d: %v", userID, err)
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	total, err := h.transactions.CountByUserID(r.Context(), userID)
	if err != nil {
		log.Printf("Error counting transactions for user %d: %v", userID, err)
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	if transactions == nil {
		transactions = []*models.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listTransactionsResponse{
		Transactions: transactions,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	})
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
