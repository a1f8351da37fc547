package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"finsync/internal/domain/dashboard"
	"finsync/internal/shared/middleware"
)

// DashboardService builds the aggregate payload, with or without a sync
// pass first.
type DashboardService interface {
	Fetch(ctx context.Context, userID int64) (*dashboard.Payload, error)
	RefreshAndFetch(ctx context.Context, userID int64) (*dashboard.Payload, error)
}

type DashboardHandler struct {
	service DashboardService
}

func NewDashboardHandler(service DashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// HandleDashboard serves GET /api/dashboard. With ?refresh=true the user's
// items are synced against the provider first; otherwise the payload is
// computed (or served from cache) over the current ledger.
func (h *DashboardHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var (
		payload *dashboard.Payload
		err     error
	)
	if r.URL.Query().Get("refresh") == "true" {
		payload, err = h.service.RefreshAndFetch(r.Context(), userID)
	} else {
		payload, err = h.service.Fetch(r.Context(), userID)
	}
	if err != nil {
		log.Printf("Error building dashboard for user %d: %v", userID, err)
		http.Error(w, "Failed to build dashboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
