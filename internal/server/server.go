// Package server implements the Gangplank HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gangplank-systems/gangplank/internal/pipeline"
	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

const defaultMaxBody = 1 << 20

// Server is the Gangplank HTTP API server.
type Server struct {
	manager *pipeline.Manager
	store   store.Store
	router  chi.Router
	addr    string
	srv     *http.Server
}

// New creates a new HTTP server.
func New(cfg *types.ServerConfig, mgr *pipeline.Manager, st store.Store) *Server {
	s := &Server{
		manager: mgr,
		store:   st,
		addr:    cfg.Addr,
	}

	maxBody := cfg.MaxRequestBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(tagRequestID)
	r.Use(logRequests(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(requireAPIKey(cfg.APIKey))
	r.Use(limitBody(maxBody))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler exposes the router (useful for testing).
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	slog.Info("gangplank server listening", "addr", s.addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
