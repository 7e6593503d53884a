package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/internal/testutil"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

var startTime = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func testConfig() *types.ProjectConfig {
	return &types.ProjectConfig{
		Store: "memory",
		Stages: []types.StageConfig{
			{Name: "HR_PAPERWORK", Criticality: "medium"},
			{Name: "IT_PROVISIONING", Criticality: "high", Dependencies: []string{"identity-provider"}},
			{Name: "EQUIPMENT_HANDOFF", Criticality: "low"},
		},
	}
}

func newTestMachine(t *testing.T, cfg *types.ProjectConfig) (*Machine, *store.Memory, *testutil.NotifyRecorder, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(startTime)
	st := store.NewMemory()
	notifier := testutil.NewNotifyRecorder()
	m := New(cfg, st, notifier, WithNow(clock.Now))
	return m, st, notifier, clock
}

func completed(sessionID, stageID string, output map[string]interface{}) types.StageOutcome {
	return types.StageOutcome{
		SessionID: sessionID,
		StageID:   stageID,
		Status:    types.StageCompleted,
		Progress:  100,
		Output:    output,
	}
}

func eventKinds(t *testing.T, st *store.Memory, sessionID string) []types.EventKind {
	t.Helper()
	events, err := st.ListEvents(context.Background(), sessionID, 0)
	require.NoError(t, err)
	kinds := make([]types.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func countKind(kinds []types.EventKind, kind types.EventKind) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestStartSession(t *testing.T) {
	m, st, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, s.Status)
	assert.Equal(t, "HR_PAPERWORK", s.CurrentStage)
	assert.Zero(t, s.CurrentIndex)
	assert.Equal(t, "emp-1042", s.SubjectID)
	assert.NotEmpty(t, s.SessionID)

	stages, err := st.ListStages(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	byID := map[string]types.Stage{}
	for _, stg := range stages {
		byID[stg.StageID] = stg
	}
	assert.Equal(t, types.StageProcessing, byID["HR_PAPERWORK"].Status)
	require.NotNil(t, byID["HR_PAPERWORK"].StartedAt)
	assert.Equal(t, startTime, *byID["HR_PAPERWORK"].StartedAt)
	assert.Equal(t, types.StageWaiting, byID["IT_PROVISIONING"].Status)
	assert.Equal(t, types.StageWaiting, byID["EQUIPMENT_HANDOFF"].Status)

	kinds := eventKinds(t, st, s.SessionID)
	assert.Equal(t, 1, countKind(kinds, types.EventSessionStarted))
	assert.Equal(t, 1, countKind(kinds, types.EventStageStarted))
}

func TestStartSession_NoStages(t *testing.T) {
	m, _, _, _ := newTestMachine(t, &types.ProjectConfig{})
	_, err := m.StartSession(context.Background(), "emp-1")
	assert.Error(t, err)
}

func TestReportStageOutcome_HappyPath(t *testing.T) {
	m, st, _, clock := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	// Progress report does not advance anything.
	clock.Advance(time.Minute)
	stg, err := m.ReportStageOutcome(ctx, types.StageOutcome{
		SessionID: s.SessionID,
		StageID:   "HR_PAPERWORK",
		Status:    types.StageProcessing,
		Progress:  50,
	})
	require.NoError(t, err)
	assert.Equal(t, types.StageProcessing, stg.Status)
	assert.Equal(t, 50.0, stg.Progress)

	clock.Advance(time.Minute)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	require.NoError(t, err)

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "IT_PROVISIONING", cur.CurrentStage)
	assert.Equal(t, 1, cur.CurrentIndex)
	assert.InDelta(t, 33.3, cur.OverallProgress, 0.1)

	next, err := st.GetStage(ctx, s.SessionID, "IT_PROVISIONING")
	require.NoError(t, err)
	assert.Equal(t, types.StageProcessing, next.Status)

	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "IT_PROVISIONING", nil))
	require.NoError(t, err)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "EQUIPMENT_HANDOFF", nil))
	require.NoError(t, err)

	cur, err = st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, cur.Status)
	assert.Equal(t, 100.0, cur.OverallProgress)
	assert.NotNil(t, cur.CompletedAt)

	kinds := eventKinds(t, st, s.SessionID)
	assert.Equal(t, 3, countKind(kinds, types.EventStageCompleted))
	assert.Equal(t, 1, countKind(kinds, types.EventSessionCompleted))
}

func TestReportStageOutcome_DuplicateIsIdempotent(t *testing.T) {
	m, st, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	require.NoError(t, err)

	stg, err := m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	assert.ErrorIs(t, err, ErrStageAlreadyCompleted)
	require.NotNil(t, stg)
	assert.Equal(t, types.StageCompleted, stg.Status)

	// Session state is untouched by the duplicate.
	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "IT_PROVISIONING", cur.CurrentStage)
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventOutcomeDuplicate))
}

func TestReportStageOutcome_Rejections(t *testing.T) {
	m, _, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	_, err = m.ReportStageOutcome(ctx, completed("nonexistent", "HR_PAPERWORK", nil))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "NOT_A_STAGE", nil))
	assert.ErrorIs(t, err, ErrStageNotActive)

	// Reporting against a later, not-yet-dispatched stage is out of order.
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "EQUIPMENT_HANDOFF", nil))
	assert.ErrorIs(t, err, ErrStageNotActive)
}

func TestReportStageOutcome_TerminalSession(t *testing.T) {
	m, _, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, s.SessionID))

	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestPauseAndResume(t *testing.T) {
	m, _, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	require.NoError(t, m.PausePipeline(ctx, s.SessionID))

	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	assert.ErrorIs(t, err, ErrSessionPaused)

	require.NoError(t, m.Resume(ctx, s.SessionID))
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	assert.NoError(t, err)
}

// A provisioning outcome with a missing required field and a threshold miss
// must fail the gate with both issues named, and recovery must reset the
// stage for another run instead of silently advancing.
func TestGateFailureBlocksAndRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[1].Gate = &types.QualityGate{
		RequiredFields: []string{"accountCreated", "equipmentAssigned"},
		Thresholds:     map[string]float64{"securityCompliance": 95},
		Mandatory:      true,
	}
	m, st, _, _ := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	require.NoError(t, err)

	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "IT_PROVISIONING", map[string]interface{}{
		"accountCreated":     true,
		"securityCompliance": 80.0,
	}))
	require.NoError(t, err)

	results, err := st.ListQualityResults(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.GateFailed, results[0].Status)
	assert.False(t, results[0].Passed)
	assert.Equal(t, []string{"equipmentAssigned", "securityCompliance: 80 < 95"}, results[0].CriticalIssues)

	// Quality violations route to workflow resumption: the stage is reset
	// and re-dispatched, the session keeps running.
	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, cur.Status)
	assert.Equal(t, "IT_PROVISIONING", cur.CurrentStage)

	stg, err := st.GetStage(ctx, s.SessionID, "IT_PROVISIONING")
	require.NoError(t, err)
	assert.Equal(t, types.StageProcessing, stg.Status)
	assert.Zero(t, stg.Progress)

	// A corrected rerun passes and the pipeline moves on.
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "IT_PROVISIONING", map[string]interface{}{
		"accountCreated":     true,
		"equipmentAssigned":  true,
		"securityCompliance": 97.0,
	}))
	require.NoError(t, err)
	cur, err = st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "EQUIPMENT_HANDOFF", cur.CurrentStage)
}

func TestGateWarnActionAdvances(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[0].Gate = &types.QualityGate{
		Thresholds:    map[string]float64{"formsSigned": 90},
		FailureAction: types.FailureWarn,
	}
	m, st, _, _ := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", map[string]interface{}{
		"formsSigned": 50.0,
	}))
	require.NoError(t, err)

	results, err := st.ListQualityResults(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed, "the failed evaluation stays on record")

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "IT_PROVISIONING", cur.CurrentStage, "warn action advances anyway")
}

func TestGateBypass(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[0].Gate = &types.QualityGate{
		RequiredFields:  []string{"backgroundCheck"},
		Mandatory:       true,
		Bypassable:      true,
		BypassAuthLevel: 3,
	}
	m, st, _, _ := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	out := completed(s.SessionID, "HR_PAPERWORK", nil)
	out.BypassAuthLevel = 5
	out.BypassReason = "director approval on file"
	_, err = m.ReportStageOutcome(ctx, out)
	require.NoError(t, err)

	results, err := st.ListQualityResults(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.GateBypass, results[0].Status)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "director approval on file", results[0].BypassReason)

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "IT_PROVISIONING", cur.CurrentStage)
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventGateBypassed))
}

func TestWorkerFailure_TransientRetries(t *testing.T) {
	m, st, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	_, err = m.ReportStageOutcome(ctx, types.StageOutcome{
		SessionID: s.SessionID,
		StageID:   "HR_PAPERWORK",
		Status:    types.StageFailed,
		Errors:    []types.StageError{{Kind: types.ErrTransient, Message: "document service 503"}},
	})
	require.NoError(t, err)

	// Immediate retry re-dispatched the stage; the session keeps running.
	stg, err := st.GetStage(ctx, s.SessionID, "HR_PAPERWORK")
	require.NoError(t, err)
	assert.Equal(t, types.StageProcessing, stg.Status)
	assert.Equal(t, 1, stg.ErrorCount)

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, cur.Status)

	attempts, err := st.ListRecoveryAttempts(ctx, s.SessionID)
	require.NoError(t, err)
	require.NotEmpty(t, attempts)
	assert.Equal(t, types.RecoverySuccess, attempts[len(attempts)-1].Status)
}

func TestWorkerFailure_RecoveryExhaustedFailsSession(t *testing.T) {
	m, st, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	// An error kind no strategy handles goes straight to human escalation.
	_, err = m.ReportStageOutcome(ctx, types.StageOutcome{
		SessionID: s.SessionID,
		StageID:   "HR_PAPERWORK",
		Status:    types.StageFailed,
		Errors:    []types.StageError{{Kind: types.ErrorKind("UNKNOWN"), Message: "unrecoverable"}},
	})
	require.NoError(t, err)

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailedRequiresRecovery, cur.Status)

	// The terminal event reports every stage's last known status truthfully.
	events, err := st.ListEvents(ctx, s.SessionID, 0)
	require.NoError(t, err)
	var failedEvent *types.Event
	for i := range events {
		if events[i].Kind == types.EventSessionFailed {
			failedEvent = &events[i]
		}
	}
	require.NotNil(t, failedEvent)
	statuses, ok := failedEvent.Details["stageStatuses"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(types.StageFailed), statuses["HR_PAPERWORK"])
	assert.Equal(t, string(types.StageWaiting), statuses["IT_PROVISIONING"])
}

// Each recovery pass consumes one unit of the stage's retry budget. Once
// MaxRetryAttempts passes are spent, the next failure fails the session
// instead of re-dispatching forever.
func TestWorkerFailure_RetryBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	// A large immediate ceiling keeps every pass on the no-wait strategy.
	cfg.Recovery = &types.RecoveryConfig{MaxRetryAttempts: 3, ImmediateRetryMax: 100}
	m, st, _, _ := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	fail := func() {
		_, err := m.ReportStageOutcome(ctx, types.StageOutcome{
			SessionID: s.SessionID,
			StageID:   "HR_PAPERWORK",
			Status:    types.StageFailed,
			Errors:    []types.StageError{{Kind: types.ErrTransient, Message: "document service 503"}},
		})
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		fail()
		stg, err := st.GetStage(ctx, s.SessionID, "HR_PAPERWORK")
		require.NoError(t, err)
		assert.Equal(t, types.StageProcessing, stg.Status, "pass %d re-dispatches", i)
		assert.Equal(t, i, stg.RetryCount)

		cur, err := st.GetSession(ctx, s.SessionID)
		require.NoError(t, err)
		assert.Equal(t, types.SessionRunning, cur.Status)
	}

	// The fourth failure finds the budget spent.
	fail()
	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailedRequiresRecovery, cur.Status)
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventSessionFailed))

	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestMergeOutcome_ErrorsOpenCircuit(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker = &types.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: "30s"}
	m, st, _, clock := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	report := func() {
		_, err := m.ReportStageOutcome(ctx, types.StageOutcome{
			SessionID: s.SessionID,
			StageID:   "HR_PAPERWORK",
			Status:    types.StageProcessing,
			Errors:    []types.StageError{{Kind: types.ErrDependencyUnavailable, Service: "identity-provider", Message: "timeout"}},
		})
		require.NoError(t, err)
	}
	report()
	assert.Equal(t, types.CircuitClosed, m.Breakers().State("identity-provider", clock.Now()))
	report()
	assert.Equal(t, types.CircuitOpen, m.Breakers().State("identity-provider", clock.Now()))
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventCircuitOpened))
}

func TestCancel(t *testing.T) {
	m, st, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, s.SessionID))

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, cur.Status)
	assert.NotNil(t, cur.CompletedAt)

	assert.ErrorIs(t, m.Cancel(ctx, s.SessionID), ErrSessionTerminal)
}

func TestCheckSLAs(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[0].SLA = &types.SLAConfig{
		TargetMinutes:   10,
		WarningMinutes:  12,
		CriticalMinutes: 15,
		BreachMinutes:   20,
	}
	m, st, _, clock := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	results, err := m.CheckSLAs(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.SLAOnTime, results[0].Status)

	clock.Advance(17 * time.Minute)
	results, err = m.CheckSLAs(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.SLABreached, results[0].Status)
	assert.Equal(t, 1.0, results[0].BreachProbability)
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventSLABreached))

	// A breach is announced once, not on every subsequent poll.
	clock.Advance(time.Minute)
	_, err = m.CheckSLAs(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventSLABreached))
}

func TestCheckSLAs_EscalatesViaRules(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[0].SLA = &types.SLAConfig{
		TargetMinutes:   10,
		WarningMinutes:  12,
		CriticalMinutes: 15,
		BreachMinutes:   20,
	}
	cfg.Rules = []types.EscalationRule{{
		ID:    "hr-breach",
		Level: types.LevelCritical,
		Trigger: types.TriggerConditions{
			StageID:     "HR_PAPERWORK",
			SLAStatusIn: []types.SLAStatus{types.SLABreached},
		},
		Recipients: []string{"hr-lead@example.com"},
	}}
	m, st, notifier, clock := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	clock.Advance(22 * time.Minute)
	_, err = m.CheckSLAs(ctx, s.SessionID)
	require.NoError(t, err)

	notes := notifier.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, []string{"hr-lead@example.com"}, notes[0].Recipients)

	escs, err := st.ListEscalations(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, escs, 1)
	assert.Equal(t, "hr-breach", escs[0].RuleID)
}

func TestExtendSLA(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[0].SLA = &types.SLAConfig{
		TargetMinutes:            10,
		WarningMinutes:           12,
		CriticalMinutes:          15,
		BreachMinutes:            20,
		ExtensionsAllowed:        true,
		MaxExtensions:            1,
		ExtensionDurationMinutes: 10,
	}
	m, st, _, clock := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)

	req := types.ExtensionRequest{
		SessionID:   s.SessionID,
		StageID:     "HR_PAPERWORK",
		ExtensionID: "ext-1",
		Reason:      "candidate documents delayed",
	}
	stg, err := m.ExtendSLA(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, stg.ExtensionsUsed)

	// Replaying the same extension ID changes nothing.
	stg, err = m.ExtendSLA(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, stg.ExtensionsUsed)
	assert.Equal(t, 1, countKind(eventKinds(t, st, s.SessionID), types.EventSLAExtended))

	// The budget is spent.
	req.ExtensionID = "ext-2"
	_, err = m.ExtendSLA(ctx, req)
	assert.Error(t, err)

	// The extension shifts every threshold: 22 minutes is AtRisk, not Breached.
	clock.Advance(22 * time.Minute)
	results, err := m.CheckSLAs(ctx, s.SessionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.SLAAtRisk, results[0].Status)
}

func TestSnapshot(t *testing.T) {
	m, _, _, _ := newTestMachine(t, testConfig())
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, snap.Session.SessionID)
	assert.Len(t, snap.Stages, 3)
	assert.Len(t, snap.QualityResults, 1)
	assert.NotEmpty(t, snap.Events)

	_, err = m.Snapshot(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// A quality violation on the very first stage has no completed checkpoint to
// resume after, so resumption restarts the pipeline from the top.
func TestGateFailureOnFirstStageRestartsIt(t *testing.T) {
	cfg := testConfig()
	cfg.Stages[0].Gate = &types.QualityGate{
		RequiredFields: []string{"backgroundCheck"},
		Mandatory:      true,
	}
	m, st, _, _ := newTestMachine(t, cfg)
	ctx := context.Background()

	s, err := m.StartSession(ctx, "emp-1042")
	require.NoError(t, err)
	_, err = m.ReportStageOutcome(ctx, completed(s.SessionID, "HR_PAPERWORK", nil))
	require.NoError(t, err)

	cur, err := st.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, cur.Status)
	assert.Equal(t, "HR_PAPERWORK", cur.CurrentStage)
	assert.Zero(t, cur.CurrentIndex)

	stg, err := st.GetStage(ctx, s.SessionID, "HR_PAPERWORK")
	require.NoError(t, err)
	assert.Equal(t, types.StageProcessing, stg.Status)
}
