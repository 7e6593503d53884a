package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

type startSessionRequest struct {
	SubjectID string `json:"subjectId"`
}

// StartSession creates a new onboarding session.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.SubjectID == "" {
		h.writeError(w, http.StatusBadRequest, "subjectId is required", nil)
		return
	}

	s, err := h.manager.StartSession(r.Context(), req.SubjectID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to start session", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(s)
}

// ListSessions returns known sessions, most recent first.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = n
	}
	sessions, err := h.store.ListSessions(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	_ = json.NewEncoder(w).Encode(sessions)
}

// GetSnapshot returns the full read-only session aggregate.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	snap, err := h.manager.Machine().Snapshot(r.Context(), id)
	if err != nil {
		h.writeError(w, statusFor(err), "session not found", err)
		return
	}
	_ = json.NewEncoder(w).Encode(snap)
}

// CancelSession terminates a session.
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.manager.Cancel(r.Context(), id); err != nil {
		h.writeError(w, statusFor(err), "failed to cancel session", err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(types.SessionCancelled)})
}

// ResumeSession clears a pause applied by an escalation action.
func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.manager.Machine().Resume(r.Context(), id); err != nil {
		h.writeError(w, statusFor(err), "failed to resume session", err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "resumed"})
}

// ListEvents returns the session's audit trail.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit", nil)
			return
		}
		limit = n
	}
	events, err := h.store.ListEvents(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}
	_ = json.NewEncoder(w).Encode(events)
}
