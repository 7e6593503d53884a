// Package handlers implements HTTP request handlers for the Gangplank API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gangplank-systems/gangplank/internal/pipeline"
	"github.com/gangplank-systems/gangplank/internal/store"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	manager *pipeline.Manager
	store   store.Store
	logger  *slog.Logger
}

// New creates a new Handlers instance.
func New(mgr *pipeline.Manager, st store.Store) *Handlers {
	return &Handlers{
		manager: mgr,
		store:   st,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps machine sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrStageAlreadyCompleted):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrSessionTerminal),
		errors.Is(err, pipeline.ErrSessionPaused),
		errors.Is(err, pipeline.ErrStageNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
