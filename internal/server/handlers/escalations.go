package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// ListEscalations returns every escalation event fired for a session.
func (h *Handlers) ListEscalations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	events, err := h.store.ListEscalations(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list escalations", err)
		return
	}
	if events == nil {
		events = []types.EscalationEvent{}
	}
	_ = json.NewEncoder(w).Encode(events)
}

type ackRequest struct {
	Operator string `json:"operator"`
}

// AcknowledgeEscalation marks a pending escalation event as acknowledged.
func (h *Handlers) AcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.Operator == "" {
		h.writeError(w, http.StatusBadRequest, "operator is required", nil)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	eventID := chi.URLParam(r, "eventID")
	if err := h.manager.Machine().Escalations().Acknowledge(r.Context(), sessionID, eventID, req.Operator); err != nil {
		h.writeError(w, http.StatusNotFound, "escalation not found", err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "acknowledged"})
}

// ListCircuits returns a snapshot of every tracked dependency circuit.
func (h *Handlers) ListCircuits(w http.ResponseWriter, r *http.Request) {
	snaps := h.manager.Machine().Breakers().Snapshots()
	if snaps == nil {
		snaps = []types.CircuitSnapshot{}
	}
	_ = json.NewEncoder(w).Encode(snaps)
}
