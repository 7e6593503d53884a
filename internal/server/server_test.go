package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gangplank-systems/gangplank/internal/pipeline"
	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/internal/testutil"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

func testServer(t *testing.T, cfg *types.ServerConfig) (*Server, *store.Memory) {
	t.Helper()
	projectCfg := &types.ProjectConfig{
		Store: "memory",
		Stages: []types.StageConfig{
			{Name: "HR_PAPERWORK", Criticality: "medium"},
			{Name: "IT_PROVISIONING", Criticality: "high"},
		},
	}
	st := store.NewMemory()
	machine := pipeline.New(projectCfg, st, testutil.NewNotifyRecorder())
	mgr := pipeline.NewManager(machine, pipeline.WithPollInterval(time.Hour))
	t.Cleanup(func() { _ = mgr.Close() })
	if cfg == nil {
		cfg = &types.ServerConfig{Addr: ":0"}
	}
	return New(cfg, mgr, st), st
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func startSession(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/sessions", map[string]string{"subjectId": "emp-1042"})
	require.Equal(t, http.StatusCreated, w.Code)
	var s types.Session
	decode(t, w, &s)
	return s.SessionID
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "gangplank", body["service"])
}

func TestStartSession(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions", map[string]string{"subjectId": "emp-1042"})
	require.Equal(t, http.StatusCreated, w.Code)
	var s types.Session
	decode(t, w, &s)
	assert.Equal(t, types.SessionRunning, s.Status)
	assert.Equal(t, "HR_PAPERWORK", s.CurrentStage)

	w = doJSON(t, srv, http.MethodPost, "/api/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessions(t *testing.T) {
	srv, _ := testServer(t, nil)
	startSession(t, srv)
	startSession(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []types.Session
	decode(t, w, &sessions)
	assert.Len(t, sessions, 2)

	w = doJSON(t, srv, http.MethodGet, "/api/sessions?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &sessions)
	assert.Len(t, sessions, 1)

	w = doJSON(t, srv, http.MethodGet, "/api/sessions?limit=banana", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSnapshot(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap types.SessionSnapshot
	decode(t, w, &snap)
	assert.Equal(t, id, snap.Session.SessionID)
	assert.Len(t, snap.Stages, 2)

	w = doJSON(t, srv, http.MethodGet, "/api/sessions/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportOutcome(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)
	path := fmt.Sprintf("/api/sessions/%s/stages/HR_PAPERWORK/outcome", id)

	w := doJSON(t, srv, http.MethodPost, path, map[string]interface{}{
		"status":   "PROCESSING",
		"progress": 40,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var stg types.Stage
	decode(t, w, &stg)
	assert.Equal(t, types.StageProcessing, stg.Status)
	assert.Equal(t, 40.0, stg.Progress)

	// Missing status is a client error.
	w = doJSON(t, srv, http.MethodPost, path, map[string]interface{}{"progress": 50})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, path, map[string]interface{}{"status": "COMPLETED"})
	require.Equal(t, http.StatusOK, w.Code)

	// Duplicate completion is idempotently rejected.
	w = doJSON(t, srv, http.MethodPost, path, map[string]interface{}{"status": "COMPLETED"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Out-of-order stage.
	w = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/sessions/%s/stages/GHOST/outcome", id),
		map[string]interface{}{"status": "COMPLETED"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown session.
	w = doJSON(t, srv, http.MethodPost,
		"/api/sessions/nonexistent/stages/HR_PAPERWORK/outcome",
		map[string]interface{}{"status": "COMPLETED"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelAndResume(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/resume", nil)
	assert.Equal(t, http.StatusOK, w.Code, "resuming an unpaused session is a no-op")

	w = doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExtendSLA(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)
	path := fmt.Sprintf("/api/sessions/%s/stages/HR_PAPERWORK/extend", id)

	w := doJSON(t, srv, http.MethodPost, path, map[string]string{"reason": "delay"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "extensionId is required")

	// No SLA extensions configured for this stage.
	w = doJSON(t, srv, http.MethodPost, path, map[string]string{"extensionId": "ext-1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckSLA(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/sessions/"+id+"/sla", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var results []types.SLAResult
	decode(t, w, &results)
	assert.Empty(t, results, "no SLA configured on these stages")
}

func TestEscalations(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/sessions/"+id+"/escalations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []types.EscalationEvent
	decode(t, w, &events)
	assert.Empty(t, events)

	w = doJSON(t, srv, http.MethodPost,
		"/api/sessions/"+id+"/escalations/ev-1/ack", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "operator is required")

	w = doJSON(t, srv, http.MethodPost,
		"/api/sessions/"+id+"/escalations/ev-1/ack", map[string]string{"operator": "ops-jordan"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEvents(t *testing.T) {
	srv, _ := testServer(t, nil)
	id := startSession(t, srv)

	w := doJSON(t, srv, http.MethodGet, "/api/sessions/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []types.Event
	decode(t, w, &events)
	assert.NotEmpty(t, events)
}

func TestListCircuits(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doJSON(t, srv, http.MethodGet, "/api/circuits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snaps []types.CircuitSnapshot
	decode(t, w, &snaps)
	assert.Empty(t, snaps)
}

func TestAPIKeyMiddleware(t *testing.T) {
	srv, _ := testServer(t, &types.ServerConfig{Addr: ":0", APIKey: "secret"})

	// Health stays open.
	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaxBodyMiddleware(t *testing.T) {
	srv, _ := testServer(t, &types.ServerConfig{Addr: ":0", MaxRequestBody: 32})

	big := map[string]string{"subjectId": "emp-1042", "padding": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}
	w := doJSON(t, srv, http.MethodPost, "/api/sessions", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
