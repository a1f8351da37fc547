package main

import (
	"log"
	"net/http"

	httphandlers "finsync/internal/interfaces/http"
	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// API routes behind the gateway-supplied identity
	identity := middleware.Identity

	mux.Handle("/api/transactions", identity(http.HandlerFunc(deps.TransactionHandler.HandleListTransactions)))
	mux.Handle("/api/accounts", identity(http.HandlerFunc(deps.AccountHandler.HandleListAccounts)))
	mux.Handle("/api/accounts/", identity(http.HandlerFunc(deps.AccountHandler.HandleAccountByID)))
	mux.Handle("/api/items", identity(http.HandlerFunc(deps.ItemHandler.HandleItems)))
	mux.Handle("/api/items/", identity(http.HandlerFunc(deps.ItemHandler.HandleItemByID)))
	mux.Handle("/api/dashboard", identity(http.HandlerFunc(deps.DashboardHandler.HandleDashboard)))
	mux.Handle("/api/sync", identity(http.HandlerFunc(deps.SyncHandler.HandleSync)))

	// Apply global middleware
	handler := middleware.Logging(middleware.RequestID(middleware.CORS(cfg.Server.AllowedHosts)(mux)))

	// Request spans and HTTP metrics when telemetry is on
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(middleware.Tracing(handler))
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	return handler
}
