package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gangplank-systems/gangplank/internal/pipeline"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// ReportOutcome accepts a worker stage's reported outcome. Duplicate reports
// against a completed stage are rejected with 409 without changing state.
func (h *Handlers) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var out types.StageOutcome
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	out.SessionID = chi.URLParam(r, "sessionID")
	out.StageID = chi.URLParam(r, "stageID")
	if out.Status == "" {
		h.writeError(w, http.StatusBadRequest, "status is required", nil)
		return
	}

	st, err := h.manager.Report(r.Context(), out)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrStageAlreadyCompleted):
			h.writeError(w, http.StatusConflict, "stage already completed", nil)
		case errors.Is(err, pipeline.ErrStageNotActive):
			h.writeError(w, http.StatusConflict, "stage is not the current stage", nil)
		case errors.Is(err, pipeline.ErrSessionPaused):
			h.writeError(w, http.StatusConflict, "session is paused", nil)
		case errors.Is(err, pipeline.ErrSessionTerminal):
			h.writeError(w, http.StatusConflict, "session is terminal", nil)
		case errors.Is(err, pipeline.ErrSessionNotFound):
			h.writeError(w, http.StatusNotFound, "session not found", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "failed to apply outcome", err)
		}
		return
	}
	_ = json.NewEncoder(w).Encode(st)
}

// ExtendSLA consumes one SLA extension on a stage.
func (h *Handlers) ExtendSLA(w http.ResponseWriter, r *http.Request) {
	var req types.ExtensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	req.StageID = chi.URLParam(r, "stageID")
	if req.ExtensionID == "" {
		h.writeError(w, http.StatusBadRequest, "extensionId is required", nil)
		return
	}

	st, err := h.manager.Machine().ExtendSLA(r.Context(), req)
	if err != nil {
		h.writeError(w, http.StatusConflict, "extension rejected", err)
		return
	}
	_ = json.NewEncoder(w).Encode(st)
}

// CheckSLA re-evaluates SLA status for the session's active stages.
func (h *Handlers) CheckSLA(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	results, err := h.manager.Machine().CheckSLAs(r.Context(), id)
	if err != nil {
		h.writeError(w, statusFor(err), "sla check failed", err)
		return
	}
	if results == nil {
		results = []types.SLAResult{}
	}
	_ = json.NewEncoder(w).Encode(results)
}
