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

// ItemStore is the item persistence surface the handler needs.
type ItemStore interface {
	Create(ctx context.Context, params models.CreateItemParams) (*models.Item, error)
	GetByID(ctx context.Context, id string) (*models.Item, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.Item, error)
	Delete(ctx context.Context, id string) error
}

// CacheInvalidator drops a user's cached dashboard after a mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

type ItemHandler struct {
	items ItemStore
	cache CacheInvalidator
}

func NewItemHandler(items ItemStore, cache CacheInvalidator) *ItemHandler {
	return &ItemHandler{items: items, cache: cache}
}

type linkItemRequest struct {
	ItemID          string `json:"itemId"`
	InstitutionName string `json:"institutionName"`
	AccessToken     string `json:"accessToken"`
}

// HandleItems dispatches /api/items: GET lists the user's linked items,
// POST links a new one.
func (h *ItemHandler) HandleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListItems(w, r)
	case http.MethodPost:
		h.handleLinkItem(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ItemHandler) handleListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	items, err := h.items.ListByUserID(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing items for user %d: %v", userID, err)
		http.Error(w, "Failed to list items", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*models.Item{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

func (h *ItemHandler) handleLinkItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req linkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemID == "" || req.AccessToken == "" {
		http.Error(w, "itemId and accessToken are required", http.StatusBadRequest)
		return
	}

	// Re-linking an item someone else owns must not silently re-home it.
	if existing, err := h.items.GetByID(r.Context(), req.ItemID); err == nil && existing.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	item, err := h.items.Create(r.Context(), models.CreateItemParams{
		ID:              req.ItemID,
		UserID:          userID,
		InstitutionName: req.InstitutionName,
		AccessToken:     req.AccessToken,
	})
	if err != nil {
		log.Printf("Error linking item %s for user %d: %v", req.ItemID, userID, err)
		http.Error(w, "Failed to link item", http.StatusInternalServerError)
		return
	}

	h.invalidate(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(item)
}

// HandleItemByID handles DELETE /api/items/{id}: unlinks the item and drops
// its accounts and transactions with it.
func (h *ItemHandler) HandleItemByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if itemID == "" || strings.Contains(itemID, "/") {
		http.Error(w, "Invalid item id", http.StatusBadRequest)
		return
	}

	item, err := h.items.GetByID(r.Context(), itemID)
	if errors.Is(err, postgres.ErrItemNotFound) {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error loading item %s: %v", itemID, err)
		http.Error(w, "Failed to unlink item", http.StatusInternalServerError)
		return
	}
	if item.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.items.Delete(r.Context(), itemID); err != nil {
		log.Printf("Error deleting item %s: %v", itemID, err)
		http.Error(w, "Failed to unlink item", http.StatusInternalServerError)
		return
	}

	h.invalidate(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) invalidate(ctx context.Context, userID int64) {
	if h.cache != nil {
		h.cache.Invalidate(ctx, userID)
	}
}
