package handlers

import (
	"encoding/json"
	"net/http"
)

// Health reports liveness plus stage-registry reachability. A failing
// registry ping degrades the status instead of erroring, so probes can tell
// "up but storage-impaired" apart from "down".
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":  "ok",
		"service": "gangplank",
	}
	if err := h.store.Ping(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["registry"] = err.Error()
	}
	_ = json.NewEncoder(w).Encode(resp)
}
