package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"finsync/internal/domain/syncer"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/infrastructure/provider"
	"finsync/internal/shared/middleware"
)

// Syncer triggers provider syncs.
type Syncer interface {
	SyncItem(ctx context.Context, itemID string) (*syncer.SyncResult, error)
	SyncAllItemsForUser(ctx context.Context, userID int64) ([]*syncer.SyncResult, error)
}

type SyncHandler struct {
	syncer Syncer
	items  ItemStore
	cache  CacheInvalidator
}

func NewSyncHandler(sync Syncer, items ItemStore, cache CacheInvalidator) *SyncHandler {
	return &SyncHandler{syncer: sync, items: items, cache: cache}
}

type syncRequest struct {
	ItemID string `json:"itemId,omitempty"` // empty = sync every linked item
}

type syncResultResponse struct {
	*syncer.SyncResult
	Error string `json:"error,omitempty"`
}

func toResponse(results ...*syncer.SyncResult) []syncResultResponse {
	out := make([]syncResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, syncResultResponse{SyncResult: r, Error: r.ErrorMessage()})
	}
	return out
}

// HandleSync serves POST /api/sync. With an itemId in the body only that
// item is synced; otherwise every item the user has linked.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if req.ItemID != "" {
		h.syncOne(w, r, userID, req.ItemID)
		return
	}
	h.syncAll(w, r, userID)
}

func (h *SyncHandler) syncOne(w http.ResponseWriter, r *http.Request, userID int64, itemID string) {
	item, err := h.items.GetByID(r.Context(), itemID)
	if errors.Is(err, postgres.ErrItemNotFound) {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error loading item %s: %v", itemID, err)
		http.Error(w, "Failed to sync item", http.StatusInternalServerError)
		return
	}
	if item.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	result, syncErr := h.syncer.SyncItem(r.Context(), itemID)
	h.invalidate(r.Context(), userID)

	status := http.StatusOK
	if syncErr != nil {
		// Credential rejections need a re-link, not a retry.
		if provider.IsAuthInvalid(syncErr) {
			status = http.StatusConflict
		} else {
			status = http.StatusBadGateway
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(toResponse(result)[0])
}

func (h *SyncHandler) syncAll(w http.ResponseWriter, r *http.Request, userID int64) {
	results, err := h.syncer.SyncAllItemsForUser(r.Context(), userID)
	if err != nil {
		log.Printf("Error syncing items for user %d: %v", userID, err)
		http.Error(w, "Failed to sync items", http.StatusInternalServerError)
		return
	}
	h.invalidate(r.Context(), userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toResponse(results...))
}

func (h *SyncHandler) invalidate(ctx context.Context, userID int64) {
	if h.cache != nil {
		h.cache.Invalidate(ctx, userID)
	}
}
