package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"finsync/internal/infrastructure/postgres"
	"finsync/internal/models"
	"finsync/internal/shared/middleware"
)

// AccountStore is the account read surface the handler needs.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Account, error)
}

type AccountHandler struct {
	accounts AccountStore
}

func NewAccountHandler(accounts AccountStore) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// HandleListAccounts serves GET /api/accounts.
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.accounts.ListByUserID(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing accounts for user %d: %v", userID, err)
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// HandleAccountByID serves GET /api/accounts/{id}.
func (h *AccountHandler) HandleAccountByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	if accountID == "" || strings.Contains(accountID, "/") {
		http.Error(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.GetByID(r.Context(), accountID)
	if errors.Is(err, postgres.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting account %s: %v", accountID, err)
		http.Error(w, "Failed to get account", http.StatusInternalServerError)
		return
	}
	if account.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}
