// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kaidlee/assistantctl/internal/api/handlers"
	"github.com/kaidlee/assistantctl/internal/api/middleware"
	"github.com/kaidlee/assistantctl/internal/fanout"
	"github.com/kaidlee/assistantctl/internal/history"
	"github.com/kaidlee/assistantctl/internal/permission"
	"github.com/kaidlee/assistantctl/internal/registry"
	"github.com/kaidlee/assistantctl/internal/supervisor"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host         string
	Port         int
	TLSCert      string // Path to TLS certificate file
	TLSKey       string // Path to TLS private key file
	TLSTailscale bool   // Fetch a cert automatically via the local Tailscale daemon
}

// Dependencies holds all dependencies for the API handlers.
type Dependencies struct {
	Supervisor *supervisor.Supervisor
	Registry   *registry.Registry
	FanOut     *fanout.FanOut
	History    *history.Index
	Permission *permission.Broker
}

// NewRouter builds the HTTP surface described in spec.md §6, plus the
// ambient request-ID/logging/recovery/CORS middleware chain every service
// in this pack carries.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	api := r.PathPrefix("/api").Subrouter()

	conv := handlers.NewConversationsHandler(deps.Supervisor, deps.Registry, deps.History)
	api.HandleFunc("/conversations/start", conv.Start).Methods("POST")
	api.HandleFunc("/conversations/{streamingId}/stop", conv.Stop).Methods("POST")
	api.HandleFunc("/conversations", conv.List).Methods("GET")
	api.HandleFunc("/conversations/{sessionId}", conv.Get).Methods("GET")

	stream := handlers.NewStreamHandler(deps.FanOut)
	api.HandleFunc("/stream/{streamingId}", stream.Serve).Methods("GET")

	perm := handlers.NewPermissionsHandler(deps.Permission)
	api.HandleFunc("/permissions/notify", perm.Notify).Methods("POST")
	api.HandleFunc("/permissions", perm.List).Methods("GET")

	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. If tls_cert/tls_key are configured, it
// serves HTTPS with them (generated or pre-existing files). If
// tls_tailscale is set instead, it fetches a certificate automatically from
// the local Tailscale daemon on first handshake.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	if s.cfg.TLSTailscale {
		s.server.TLSConfig = tailscaleTLSConfig()
		log.Printf("API server listening on https://%s (Tailscale TLS)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}
	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
