package main

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"time"

	"finsync/internal/scheduler"
	"finsync/internal/shared/config"
	"finsync/internal/shared/middleware"
)

// ServerConfig holds the runtime configuration for HTTP/HTTPS servers.
type ServerConfig struct {
	Host         string
	Port         string
	TLSEnabled   bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// NewServerConfigFromConfig builds a ServerConfig from application config.
func NewServerConfigFromConfig(cfg *config.Config) ServerConfig {
	return ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		TLSEnabled:   cfg.TLS.Enabled,
		CertPath:     cfg.TLS.CertPath,
		KeyPath:      cfg.TLS.KeyPath,
		RedirectHTTP: cfg.TLS.RedirectHTTP,
	}
}

// StartServers starts the main HTTP or HTTPS server and, when configured, an
// HTTP-to-HTTPS redirect server. Returns the servers so callers can shut them
// down gracefully.
func StartServers(handler http.Handler, cfg ServerConfig) (*http.Server, *http.Server) {
	addr := cfg.Host + ":" + cfg.Port

	mainServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var redirectServer *http.Server

	if cfg.TLSEnabled {
		mainServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		mainServer.Handler = middleware.RequireHTTPS(handler)

		go func() {
			log.Printf("HTTPS server starting on %s", addr)
			if err := mainServer.ListenAndServeTLS(cfg.CertPath, cfg.KeyPath); err != nil && err != http.ErrServerClosed {
				log.Fatalf("HTTPS server failed: %v", err)
			}
		}()

		if cfg.RedirectHTTP {
			redirectServer = createRedirectServer(cfg.Host)
			go func() {
				log.Printf("HTTP redirect server starting on %s:80", cfg.Host)
				if err := redirectServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("HTTP redirect server failed: %v", err)
				}
			}()
		}
	} else {
		go func() {
			log.Printf("HTTP server starting on %s", addr)
			if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("HTTP server failed: %v", err)
			}
		}()
	}

	return mainServer, redirectServer
}

// createRedirectServer builds a server that redirects all HTTP traffic to HTTPS.
func createRedirectServer(host string) *http.Server {
	return &http.Server{
		Addr: host + ":80",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// GracefulShutdown stops the servers and scheduler, waiting up to the timeout
// for in-flight requests and jobs to complete.
func GracefulShutdown(mainServer, redirectServer *http.Server, sched *scheduler.Scheduler, timeout time.Duration) {
	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if sched != nil {
		sched.Shutdown(timeout)
	}

	if redirectServer != nil {
		if err := redirectServer.Shutdown(ctx); err != nil {
			log.Printf("HTTP redirect server shutdown error: %v", err)
		}
	}

	if err := mainServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
