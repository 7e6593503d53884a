package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gangplank-systems/gangplank/internal/breaker"
	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/internal/testutil"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// fakePipeline scripts the state machine collaborator.
type fakePipeline struct {
	mu            sync.Mutex
	retryErr      error
	restoreErr    error
	resumeErr     error
	lastCompleted string

	retries  int
	restores int
	resumes  int
	resumed  []string

	onRetry func(attempt int)
}

func (p *fakePipeline) RetryStage(_ context.Context, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries++
	if p.onRetry != nil {
		p.onRetry(p.retries)
	}
	return p.retryErr
}

func (p *fakePipeline) RestoreStage(_ context.Context, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restores++
	return p.restoreErr
}

func (p *fakePipeline) LastCompletedStage(_ context.Context, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCompleted, nil
}

func (p *fakePipeline) ResumeFrom(_ context.Context, _, afterStage string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	p.resumed = append(p.resumed, afterStage)
	return p.resumeErr
}

func failure(kind types.ErrorKind, errorCount int) types.FailureContext {
	return types.FailureContext{
		SessionID:  "sess-1",
		StageID:    "IT_PROVISIONING",
		Kind:       kind,
		ErrorCount: errorCount,
	}
}

func TestSelectStrategy(t *testing.T) {
	o := New(Config{}, store.NewMemory(), &fakePipeline{}, nil)

	tests := []struct {
		name string
		fc   types.FailureContext
		want types.RecoveryStrategy
	}{
		{"transient few errors", failure(types.ErrTransient, 1), types.StrategyImmediateRetry},
		{"transient at retry ceiling", failure(types.ErrTransient, 3), types.StrategyBackoffRetry},
		{"dependency unavailable", failure(types.ErrDependencyUnavailable, 1), types.StrategyBackoffRetry},
		{"state inconsistency", failure(types.ErrStateInconsistency, 0), types.StrategyStateRestoration},
		{"quality violation", failure(types.ErrQualityViolation, 0), types.StrategyWorkflowResumption},
		{"unknown kind", failure(types.ErrorKind("MYSTERY"), 0), types.StrategyEscalateToHuman},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, o.selectStrategy(tt.fc))
		})
	}
}

func TestRecover_ImmediateRetryRedispatches(t *testing.T) {
	p := &fakePipeline{}
	st := store.NewMemory()
	o := New(Config{}, st, p, nil)

	result := o.Recover(context.Background(), failure(types.ErrTransient, 1))

	// An accepted dispatch is at most Partial: the retried execution reports
	// back asynchronously, so a dispatch alone cannot claim full success.
	assert.Equal(t, types.RecoveryPartial, result.Status)
	assert.Equal(t, "stage re-dispatched, awaiting worker outcome", result.Message)
	assert.Equal(t, types.StrategyImmediateRetry, result.Strategy)
	assert.Equal(t, 1, p.retries)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, types.RecoverySuccess, result.Attempts[0].Status)

	attempts, err := st.ListRecoveryAttempts(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestRecover_FallsThroughToNextStrategy(t *testing.T) {
	// Immediate retries all fail; the backoff strategy's first attempt (which
	// waits nothing) succeeds.
	p := &fakePipeline{retryErr: errors.New("worker crashed")}
	p.onRetry = func(n int) {
		if n > 3 {
			p.retryErr = nil
		}
	}
	o := New(Config{}, store.NewMemory(), p, nil)

	result := o.Recover(context.Background(), failure(types.ErrTransient, 1))

	assert.Equal(t, types.RecoveryPartial, result.Status)
	assert.Equal(t, types.StrategyBackoffRetry, result.Strategy)
	assert.Equal(t, 4, p.retries, "three immediate attempts plus one backoff attempt")
}

func TestRecover_ExhaustsAllStrategies(t *testing.T) {
	p := &fakePipeline{
		retryErr:   errors.New("worker crashed"),
		restoreErr: errors.New("restore failed"),
		resumeErr:  errors.New("resume failed"),
	}
	st := store.NewMemory()
	// One attempt per retry strategy keeps the fall-through fast.
	o := New(Config{MaxRetryAttempts: 1}, st, p, nil)

	result := o.Recover(context.Background(), failure(types.ErrTransient, 1))

	assert.Equal(t, types.RecoveryFailed, result.Status)
	assert.Equal(t, types.StrategyEscalateToHuman, result.Strategy)
	assert.Contains(t, result.Message, "human intervention")
	assert.Equal(t, 2, p.retries)
	assert.Equal(t, 1, p.restores)
	assert.Equal(t, 1, p.resumes)

	events, err := st.ListEvents(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	var started, completed bool
	for _, ev := range events {
		switch ev.Kind {
		case types.EventRecoveryStarted:
			started = true
		case types.EventRecoveryCompleted:
			completed = true
			assert.Equal(t, string(types.RecoveryFailed), ev.Status)
		}
	}
	assert.True(t, started)
	assert.True(t, completed)
}

func TestRecover_PartialIsNeverUpgraded(t *testing.T) {
	// The restore succeeds but re-execution fails: that is Partial, and the
	// orchestrator must not keep falling through as if it had failed outright.
	p := &fakePipeline{retryErr: errors.New("still broken")}
	o := New(Config{}, store.NewMemory(), p, nil)

	result := o.Recover(context.Background(), failure(types.ErrStateInconsistency, 0))

	assert.Equal(t, types.RecoveryPartial, result.Status)
	assert.Equal(t, types.StrategyStateRestoration, result.Strategy)
	assert.Contains(t, result.Message, "re-execution failed")
	assert.Equal(t, 1, p.restores)
	assert.Equal(t, 1, p.retries)
	assert.Zero(t, p.resumes, "partial outcomes do not fall through")
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, types.RecoverySuccess, result.Attempts[0].Status)
	assert.Equal(t, types.RecoveryFailed, result.Attempts[1].Status)
}

func TestRecover_StateRestorationRedispatches(t *testing.T) {
	p := &fakePipeline{}
	o := New(Config{}, store.NewMemory(), p, nil)

	result := o.Recover(context.Background(), failure(types.ErrStateInconsistency, 0))

	assert.Equal(t, types.RecoveryPartial, result.Status)
	assert.Equal(t, "state restored, stage re-dispatched", result.Message)
	assert.Equal(t, 1, p.restores)
	assert.Equal(t, 1, p.retries)
}

func TestRecover_WorkflowResumption(t *testing.T) {
	p := &fakePipeline{lastCompleted: "HR_PAPERWORK"}
	o := New(Config{}, store.NewMemory(), p, nil)

	result := o.Recover(context.Background(), failure(types.ErrQualityViolation, 0))

	assert.Equal(t, types.RecoverySuccess, result.Status)
	assert.Equal(t, types.StrategyWorkflowResumption, result.Strategy)
	assert.Equal(t, "HR_PAPERWORK", result.ResumeFrom)
	assert.Equal(t, []string{"HR_PAPERWORK"}, p.resumed)
}

func TestRecover_OpenCircuitFailsFast(t *testing.T) {
	bm := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	bm.RecordOutcome("identity-provider", false, time.Now())

	p := &fakePipeline{
		restoreErr: errors.New("restore failed"),
		resumeErr:  errors.New("resume failed"),
	}
	probe := testutil.NewScriptedProbe(map[string][]bool{"identity-provider": {true}})
	o := New(Config{MaxRetryAttempts: 1}, store.NewMemory(), p, bm, WithProbe(probe))

	fc := failure(types.ErrDependencyUnavailable, 1)
	fc.Service = "identity-provider"
	result := o.Recover(context.Background(), fc)

	assert.Zero(t, p.retries, "open circuit must fail fast without touching the stage")

	// Every strategy failed, but the terminal probe found the dependency
	// healthy again: the breaker is reset and the outcome is Partial.
	assert.Equal(t, types.RecoveryPartial, result.Status)
	assert.Equal(t, types.StrategyEscalateToHuman, result.Strategy)
	assert.Contains(t, result.Message, "circuit reset")
	assert.Equal(t, types.CircuitClosed, bm.State("identity-provider", time.Now()))
	assert.Equal(t, 1, probe.Calls("identity-provider"))
}

func TestRecover_EscalateWithUnhealthyDependency(t *testing.T) {
	bm := breaker.New(breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	bm.RecordOutcome("identity-provider", false, time.Now())

	p := &fakePipeline{
		restoreErr: errors.New("restore failed"),
		resumeErr:  errors.New("resume failed"),
	}
	probe := testutil.NewScriptedProbe(map[string][]bool{"identity-provider": {false}})
	o := New(Config{MaxRetryAttempts: 1}, store.NewMemory(), p, bm, WithProbe(probe))

	fc := failure(types.ErrDependencyUnavailable, 1)
	fc.Service = "identity-provider"
	result := o.Recover(context.Background(), fc)

	assert.Equal(t, types.RecoveryFailed, result.Status)
	assert.Equal(t, types.CircuitOpen, bm.State("identity-provider", time.Now()),
		"an unhealthy dependency keeps its circuit open")
}

func TestRecover_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakePipeline{retryErr: errors.New("worker crashed")}
	p.onRetry = func(int) { cancel() }

	o := New(Config{BackoffSeconds: 30}, store.NewMemory(), p, nil)

	result := o.Recover(ctx, failure(types.ErrDependencyUnavailable, 1))

	assert.Equal(t, types.RecoveryFailed, result.Status)
	assert.Equal(t, "cancelled during backoff", result.Message)
	assert.Equal(t, 1, p.retries, "cancellation interrupts the delay, not a hard sleep")
}

func TestRecover_BackoffCompoundsAcrossPasses(t *testing.T) {
	// A stage that already consumed recovery passes starts its next pass
	// deeper into the backoff schedule: even the first attempt waits. With a
	// cancelled context that wait is observable as "cancelled during backoff"
	// before any dispatch, where a first pass would skip straight to the guard.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePipeline{}
	o := New(Config{BackoffSeconds: 30}, store.NewMemory(), p, nil)

	fc := failure(types.ErrDependencyUnavailable, 1)
	fc.RetryCount = 2
	result := o.Recover(ctx, fc)

	assert.Equal(t, types.RecoveryFailed, result.Status)
	assert.Equal(t, "cancelled during backoff", result.Message)
	assert.Zero(t, p.retries)
}

func TestCalculateBackoff(t *testing.T) {
	o := New(Config{}, store.NewMemory(), &fakePipeline{}, nil)

	assert.Equal(t, 5*time.Second, o.calculateBackoff(1))
	assert.Equal(t, 10*time.Second, o.calculateBackoff(2))
	assert.Equal(t, 20*time.Second, o.calculateBackoff(3))
	assert.Equal(t, 300*time.Second, o.calculateBackoff(10), "capped at the maximum")
}
