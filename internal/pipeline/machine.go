package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gangplank-systems/gangplank/internal/breaker"
	"github.com/gangplank-systems/gangplank/internal/escalation"
	"github.com/gangplank-systems/gangplank/internal/gate"
	"github.com/gangplank-systems/gangplank/internal/metrics"
	"github.com/gangplank-systems/gangplank/internal/recovery"
	"github.com/gangplank-systems/gangplank/internal/sla"
	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Sentinel errors returned by machine operations.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionTerminal       = errors.New("session is in a terminal state")
	ErrSessionPaused         = errors.New("session is paused")
	ErrStageNotActive        = errors.New("stage is not the current stage")
	ErrStageAlreadyCompleted = errors.New("stage already completed")
)

// Notifier is the outbound notification surface the machine depends on.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, level types.EscalationLevel, message string, requiresAck bool) (string, error)
	CreateIncident(ctx context.Context, ic types.IncidentContext) (string, error)
}

// Machine drives onboarding sessions through the configured stage order.
// Advancement past a stage requires a Passed or Bypass gate result; every
// other outcome is routed to escalation and recovery, never dropped.
type Machine struct {
	cfg      *types.ProjectConfig
	store    store.Store
	gates    *gate.Engine
	breakers *breaker.Manager
	esc      *escalation.Engine
	rec      *recovery.Orchestrator
	notifier Notifier
	metrics  *metrics.Metrics
	probe    breaker.HealthProbe
	logger   *slog.Logger
	nowFn    func() time.Time

	// maxRetries caps a stage's cumulative automatic recovery passes.
	maxRetries int

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-session write serialization
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithNow overrides the machine clock (useful for testing).
func WithNow(fn func() time.Time) Option {
	return func(m *Machine) { m.nowFn = fn }
}

// WithMetrics sets the metrics aggregator.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mx }
}

// WithProbe sets the dependency health probe used by recovery.
func WithProbe(p breaker.HealthProbe) Option {
	return func(m *Machine) { m.probe = p }
}

// New creates a Machine and wires the gate, breaker, escalation and recovery
// components around it.
func New(cfg *types.ProjectConfig, st store.Store, notifier Notifier, opts ...Option) *Machine {
	m := &Machine{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		metrics:  metrics.NewNoop(),
		logger:   slog.Default(),
		nowFn:    time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}

	m.gates = gate.New(gate.WithNow(m.nowFn))

	bc := breaker.DefaultConfig()
	if cfg.Breaker != nil {
		if cfg.Breaker.FailureThreshold > 0 {
			bc.FailureThreshold = cfg.Breaker.FailureThreshold
		}
		if cfg.Breaker.SuccessThreshold > 0 {
			bc.SuccessThreshold = cfg.Breaker.SuccessThreshold
		}
		if d, err := time.ParseDuration(cfg.Breaker.RecoveryTimeout); err == nil && d > 0 {
			bc.RecoveryTimeout = d
		}
		if cfg.Breaker.HalfOpenMaxProbes > 0 {
			bc.HalfOpenMaxProbes = cfg.Breaker.HalfOpenMaxProbes
		}
	}
	m.breakers = breaker.New(bc)

	m.esc = escalation.New(cfg.Rules, cfg.Stages, st, notifier, m,
		escalation.WithLogger(m.logger), escalation.WithNow(m.nowFn))

	rc := recovery.DefaultConfig()
	if cfg.Recovery != nil {
		if cfg.Recovery.MaxRetryAttempts > 0 {
			rc.MaxRetryAttempts = cfg.Recovery.MaxRetryAttempts
		}
		if cfg.Recovery.ImmediateRetryMax > 0 {
			rc.ImmediateRetryMax = cfg.Recovery.ImmediateRetryMax
		}
		if cfg.Recovery.BackoffSeconds > 0 {
			rc.BackoffSeconds = cfg.Recovery.BackoffSeconds
		}
		if cfg.Recovery.BackoffMultiplier > 0 {
			rc.BackoffMultiplier = cfg.Recovery.BackoffMultiplier
		}
		if cfg.Recovery.MaxBackoffSeconds > 0 {
			rc.MaxBackoffSeconds = cfg.Recovery.MaxBackoffSeconds
		}
	}
	m.maxRetries = rc.MaxRetryAttempts
	recOpts := []recovery.Option{recovery.WithLogger(m.logger), recovery.WithNow(m.nowFn)}
	if m.probe != nil {
		recOpts = append(recOpts, recovery.WithProbe(m.probe))
	}
	m.rec = recovery.New(rc, st, m, m.breakers, recOpts...)

	return m
}

// Breakers exposes the shared circuit breaker manager.
func (m *Machine) Breakers() *breaker.Manager { return m.breakers }

// Escalations exposes the escalation engine (for acknowledgement calls).
func (m *Machine) Escalations() *escalation.Engine { return m.esc }

func (m *Machine) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

func (m *Machine) releaseLock(sessionID string) {
	m.mu.Lock()
	delete(m.locks, sessionID)
	m.mu.Unlock()
}

// StartSession creates a session for a subject, registers every configured
// stage, and dispatches the first one.
func (m *Machine) StartSession(ctx context.Context, subjectID string) (*types.Session, error) {
	if len(m.cfg.Stages) == 0 {
		return nil, fmt.Errorf("no stages configured")
	}
	now := m.nowFn()
	s := types.Session{
		SessionID: ulid.Make().String(),
		SubjectID: subjectID,
		Status:    types.SessionInitiated,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.PutSession(ctx, s); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	for _, sc := range m.cfg.Stages {
		st := types.Stage{
			SessionID: s.SessionID,
			StageID:   sc.Name,
			Status:    types.StageWaiting,
			UpdatedAt: now,
		}
		if err := m.store.PutStage(ctx, st); err != nil {
			return nil, fmt.Errorf("registering stage %q: %w", sc.Name, err)
		}
	}

	s.Status = types.SessionRunning
	s.CurrentStage = m.cfg.Stages[0].Name
	s.CurrentIndex = 0
	if err := m.store.PutSession(ctx, s); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventSessionStarted,
		SessionID: s.SessionID,
		Status:    string(s.Status),
		Details:   map[string]interface{}{"subjectId": subjectID, "stages": len(m.cfg.Stages)},
		Timestamp: now,
	})
	metrics.Add(ctx, m.metrics.SessionsStarted, 1)

	if err := m.dispatchStage(ctx, &s, s.CurrentStage, now); err != nil {
		return nil, err
	}
	m.logger.Info("session started", "session", s.SessionID, "subject", subjectID, "stage", s.CurrentStage)
	return &s, nil
}

// ReportStageOutcome is the only external write path into the stage
// registry. Reporting against an already completed stage is idempotent: the
// duplicate is recorded and rejected without touching session state.
func (m *Machine) ReportStageOutcome(ctx context.Context, out types.StageOutcome) (*types.Stage, error) {
	l := m.sessionLock(out.SessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadSession(ctx, out.SessionID)
	if err != nil {
		return nil, err
	}
	if IsTerminalSession(s.Status) {
		return nil, fmt.Errorf("session %s: %w", s.SessionID, ErrSessionTerminal)
	}
	if s.Paused {
		return nil, fmt.Errorf("session %s: %w", s.SessionID, ErrSessionPaused)
	}

	st, err := m.store.GetStage(ctx, out.SessionID, out.StageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("stage %q: %w", out.StageID, ErrStageNotActive)
		}
		return nil, err
	}

	now := m.nowFn()
	if st.Status == types.StageCompleted {
		m.appendEvent(ctx, types.Event{
			Kind:      types.EventOutcomeDuplicate,
			SessionID: out.SessionID,
			StageID:   out.StageID,
			Status:    string(out.Status),
			Timestamp: now,
		})
		return st, ErrStageAlreadyCompleted
	}
	if out.StageID != s.CurrentStage {
		return nil, fmt.Errorf("stage %q, current is %q: %w", out.StageID, s.CurrentStage, ErrStageNotActive)
	}

	m.mergeOutcome(st, out, now)
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventOutcomeReported,
		SessionID: out.SessionID,
		StageID:   out.StageID,
		Status:    string(out.Status),
		Timestamp: now,
	})

	switch out.Status {
	case types.StageProcessing:
		// Progress report only, no transition.
		if err := m.store.PutStage(ctx, *st); err != nil {
			return nil, err
		}
		return st, nil
	case types.StageCompleted:
		return m.handleCompletion(ctx, s, st, out, now)
	case types.StageFailed, types.StageTimeout, types.StageEscalated:
		return m.handleFailure(ctx, s, st, out, now)
	default:
		return nil, fmt.Errorf("unsupported outcome status %q", out.Status)
	}
}

func (m *Machine) mergeOutcome(st *types.Stage, out types.StageOutcome, now time.Time) {
	if out.Progress > st.Progress {
		st.Progress = out.Progress
	}
	if out.Output != nil {
		st.Output = out.Output
	}
	for _, e := range out.Errors {
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		st.Errors = append(st.Errors, e)
		st.ErrorCount++
		if e.Service != "" {
			snap, action := m.breakers.RecordOutcome(e.Service, false, now)
			if action == types.ActionOpenCircuit || action == types.ActionReopenCircuit {
				metrics.Add(context.Background(), m.metrics.CircuitOpens, 1)
				m.appendEvent(context.Background(), types.Event{
					Kind:      types.EventCircuitOpened,
					SessionID: st.SessionID,
					StageID:   st.StageID,
					Status:    string(snap.State),
					Message:   e.Service,
					Timestamp: now,
				})
			}
		}
	}
	st.UpdatedAt = now
}

// handleCompletion runs the quality gate and either advances the pipeline or
// routes the failed gate per its failure action.
func (m *Machine) handleCompletion(ctx context.Context, s *types.Session, st *types.Stage, out types.StageOutcome, now time.Time) (*types.Stage, error) {
	sc := m.cfg.StageByName(st.StageID)

	var bypass *gate.Bypass
	if out.BypassAuthLevel > 0 {
		bypass = &gate.Bypass{AuthLevel: out.BypassAuthLevel, Reason: out.BypassReason}
	}
	var g *types.QualityGate
	if sc != nil {
		g = sc.Gate
	}
	result := m.gates.Evaluate(s.SessionID, st.StageID, g, out.Output, bypass)
	if err := m.store.AppendQualityResult(ctx, result); err != nil {
		return nil, fmt.Errorf("storing gate result: %w", err)
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventGateEvaluated,
		SessionID: s.SessionID,
		StageID:   st.StageID,
		Status:    string(result.Status),
		Details:   map[string]interface{}{"score": result.Score, "criticalIssues": result.CriticalIssues},
		Timestamp: now,
	})
	if result.Status == types.GateBypass {
		metrics.Add(ctx, m.metrics.GateBypasses, 1)
		m.appendEvent(ctx, types.Event{
			Kind:      types.EventGateBypassed,
			SessionID: s.SessionID,
			StageID:   st.StageID,
			Message:   result.BypassReason,
			Timestamp: now,
		})
	}

	if result.Passed {
		return st, m.completeStage(ctx, s, st, now)
	}

	metrics.Add(ctx, m.metrics.GateFailures, 1)
	action := types.FailureBlock
	if g != nil && g.FailureAction != "" {
		action = g.FailureAction
	}

	switch action {
	case types.FailureWarn:
		// Progression continues; the warnings stay on the recorded result.
		m.logger.Warn("gate failed, advancing on warn action",
			"session", s.SessionID, "stage", st.StageID, "score", result.Score)
		return st, m.completeStage(ctx, s, st, now)
	case types.FailureEscalate:
		if err := m.transitionStage(ctx, st, types.StageEscalated, now); err != nil {
			return nil, err
		}
		m.evaluateEscalations(ctx, s.SessionID)
		return st, m.flagFailure(ctx, s, st, types.ErrQualityViolation, "quality gate failed", "", now)
	default: // block
		if err := m.transitionStage(ctx, st, types.StageFailed, now); err != nil {
			return nil, err
		}
		m.appendEvent(ctx, types.Event{
			Kind:      types.EventStageFailed,
			SessionID: s.SessionID,
			StageID:   st.StageID,
			Message:   fmt.Sprintf("gate failed with score %.0f", result.Score),
			Timestamp: now,
		})
		m.evaluateEscalations(ctx, s.SessionID)
		return st, m.flagFailure(ctx, s, st, types.ErrQualityViolation, "quality gate failed", "", now)
	}
}

// handleFailure records a worker-reported failure and routes it to recovery.
func (m *Machine) handleFailure(ctx context.Context, s *types.Session, st *types.Stage, out types.StageOutcome, now time.Time) (*types.Stage, error) {
	if err := m.transitionStage(ctx, st, out.Status, now); err != nil {
		return nil, err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventStageFailed,
		SessionID: s.SessionID,
		StageID:   st.StageID,
		Status:    string(out.Status),
		Timestamp: now,
	})

	kind := types.ErrTransient
	message := "stage failed"
	service := ""
	if len(out.Errors) > 0 {
		last := out.Errors[len(out.Errors)-1]
		if last.Kind != "" {
			kind = last.Kind
		}
		if last.Message != "" {
			message = last.Message
		}
		service = last.Service
	}
	if out.Status == types.StageTimeout && kind == types.ErrTransient {
		message = "stage timed out"
	}

	m.evaluateEscalations(ctx, s.SessionID)
	return st, m.flagFailure(ctx, s, st, kind, message, service, now)
}

// flagFailure hands the failure to the recovery orchestrator and applies the
// truthful result: a failed recovery stops auto-advancing. Each pass consumes
// one unit of the stage's retry budget; once the budget is spent the session
// is failed instead of re-dispatched.
func (m *Machine) flagFailure(ctx context.Context, s *types.Session, st *types.Stage, kind types.ErrorKind, message, service string, now time.Time) error {
	if st.RetryCount >= m.maxRetries {
		return m.failSession(ctx, s, fmt.Sprintf("retry limit (%d) exhausted for stage %s: %s", m.maxRetries, st.StageID, message))
	}
	fc := types.FailureContext{
		SessionID:  s.SessionID,
		StageID:    st.StageID,
		Kind:       kind,
		Message:    message,
		Service:    service,
		ErrorCount: st.ErrorCount,
		RetryCount: st.RetryCount,
		OccurredAt: now,
	}
	st.RetryCount++
	st.UpdatedAt = now
	if err := m.store.PutStage(ctx, *st); err != nil {
		return err
	}
	res := m.rec.Recover(ctx, fc)
	metrics.Add(ctx, m.metrics.RecoveriesAttempted, 1)

	switch res.Status {
	case types.RecoveryFailed:
		if ctx.Err() != nil {
			// The session loop was cancelled mid-recovery; the canceller
			// owns the terminal transition.
			return ctx.Err()
		}
		return m.failSession(ctx, s, fmt.Sprintf("recovery exhausted for stage %s: %s", st.StageID, res.Message))
	case types.RecoveryPartial:
		metrics.Add(ctx, m.metrics.RecoveriesPartial, 1)
		m.logger.Warn("recovery partial, continuing with reduced guarantees",
			"session", s.SessionID, "stage", st.StageID, "strategy", res.Strategy)
		return nil
	default:
		return nil
	}
}

// completeStage finalizes the current stage and advances the session, or
// finishes it when this was the last stage.
func (m *Machine) completeStage(ctx context.Context, s *types.Session, st *types.Stage, now time.Time) error {
	if err := m.transitionStage(ctx, st, types.StageCompleted, now); err != nil {
		return err
	}
	st.Progress = 100
	st.CompletedAt = &now
	if err := m.store.PutStage(ctx, *st); err != nil {
		return err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventStageCompleted,
		SessionID: s.SessionID,
		StageID:   st.StageID,
		Timestamp: now,
	})
	metrics.Add(ctx, m.metrics.StagesCompleted, 1)

	next := s.CurrentIndex + 1
	if next >= len(m.cfg.Stages) {
		return m.finishSession(ctx, s, now)
	}

	s.CurrentIndex = next
	s.CurrentStage = m.cfg.Stages[next].Name
	s.OverallProgress = float64(next) / float64(len(m.cfg.Stages)) * 100
	s.UpdatedAt = now
	if err := m.store.PutSession(ctx, *s); err != nil {
		return err
	}
	return m.dispatchStage(ctx, s, s.CurrentStage, now)
}

func (m *Machine) finishSession(ctx context.Context, s *types.Session, now time.Time) error {
	if err := TransitionSession(s.Status, types.SessionFinalizing); err != nil {
		return err
	}
	s.Status = types.SessionCompleted
	s.OverallProgress = 100
	s.CompletedAt = &now
	s.UpdatedAt = now
	if err := m.store.PutSession(ctx, *s); err != nil {
		return err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventSessionCompleted,
		SessionID: s.SessionID,
		Status:    string(s.Status),
		Timestamp: now,
	})
	metrics.Add(ctx, m.metrics.SessionsCompleted, 1)
	m.esc.ForgetSession(s.SessionID)
	m.releaseLock(s.SessionID)
	m.logger.Info("session completed", "session", s.SessionID)
	return nil
}

// failSession writes the terminal failed state. Every stage keeps its last
// known status; nothing is rewritten to look healthy.
func (m *Machine) failSession(ctx context.Context, s *types.Session, reason string) error {
	now := m.nowFn()
	if err := TransitionSession(s.Status, types.SessionFailedRequiresRecovery); err != nil {
		return err
	}
	s.Status = types.SessionFailedRequiresRecovery
	s.UpdatedAt = now
	if err := m.store.PutSession(ctx, *s); err != nil {
		return err
	}

	statuses := map[string]interface{}{}
	if stages, err := m.store.ListStages(ctx, s.SessionID); err == nil {
		for _, st := range stages {
			statuses[st.StageID] = string(st.Status)
		}
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventSessionFailed,
		SessionID: s.SessionID,
		Status:    string(s.Status),
		Message:   reason,
		Details:   map[string]interface{}{"stageStatuses": statuses},
		Timestamp: now,
	})
	metrics.Add(ctx, m.metrics.SessionsFailed, 1)
	m.logger.Error("session failed, manual recovery required", "session", s.SessionID, "reason", reason)
	return nil
}

// Cancel flips the session to Cancelled. The manager interrupts any
// in-flight recovery wait before calling this, so the session lock is
// acquired promptly and the flip stays synchronous.
func (m *Machine) Cancel(ctx context.Context, sessionID string) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if IsTerminalSession(s.Status) {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminal)
	}
	now := m.nowFn()
	s.Status = types.SessionCancelled
	s.CompletedAt = &now
	s.UpdatedAt = now
	if err := m.store.PutSession(ctx, *s); err != nil {
		return err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventSessionCancelled,
		SessionID: sessionID,
		Status:    string(s.Status),
		Timestamp: now,
	})
	metrics.Add(ctx, m.metrics.SessionsCancelled, 1)
	m.esc.ForgetSession(sessionID)
	m.releaseLock(sessionID)
	return nil
}

// Resume clears a pause applied by an escalation action.
func (m *Machine) Resume(ctx context.Context, sessionID string) error {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if IsTerminalSession(s.Status) {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminal)
	}
	if !s.Paused {
		return nil
	}
	s.Paused = false
	s.UpdatedAt = m.nowFn()
	return m.store.PutSession(ctx, *s)
}

// CheckSLAs re-evaluates SLA status for the session's active stage. The
// monitor only classifies; blocking decisions stay with escalation.
func (m *Machine) CheckSLAs(ctx context.Context, sessionID string) ([]types.SLAResult, error) {
	s, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if IsTerminalSession(s.Status) {
		return nil, nil
	}

	now := m.nowFn()
	var results []types.SLAResult
	stages, err := m.store.ListStages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, st := range stages {
		if st.Status != types.StageProcessing || st.StartedAt == nil {
			continue
		}
		sc := m.cfg.StageByName(st.StageID)
		if sc == nil || sc.SLA == nil {
			continue
		}
		prev, _ := m.latestSLA(ctx, sessionID, st.StageID)
		r := sla.Evaluate(sc.SLA, st, now)
		if err := m.store.PutSLAResult(ctx, r); err != nil {
			return nil, err
		}
		results = append(results, r)
		m.appendEvent(ctx, types.Event{
			Kind:      types.EventSLAEvaluated,
			SessionID: sessionID,
			StageID:   st.StageID,
			Status:    string(r.Status),
			Details:   map[string]interface{}{"elapsedMinutes": r.ElapsedMinutes, "breachProbability": r.BreachProbability},
			Timestamp: now,
		})
		if r.Status == types.SLABreached && (prev == nil || prev.Status != types.SLABreached) {
			metrics.Add(ctx, m.metrics.SLABreaches, 1)
			m.appendEvent(ctx, types.Event{
				Kind:      types.EventSLABreached,
				SessionID: sessionID,
				StageID:   st.StageID,
				Timestamp: now,
			})
		}
	}
	if len(results) > 0 {
		m.evaluateEscalations(ctx, sessionID)
	}
	return results, nil
}

// ExtendSLA consumes one SLA extension on a stage, idempotent per extension ID.
func (m *Machine) ExtendSLA(ctx context.Context, req types.ExtensionRequest) (*types.Stage, error) {
	l := m.sessionLock(req.SessionID)
	l.Lock()
	defer l.Unlock()

	st, err := m.store.GetStage(ctx, req.SessionID, req.StageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("stage %q: %w", req.StageID, ErrStageNotActive)
		}
		return nil, err
	}
	sc := m.cfg.StageByName(req.StageID)
	var slaCfg *types.SLAConfig
	if sc != nil {
		slaCfg = sc.SLA
	}
	updated, changed, err := sla.ApplyExtension(slaCfg, *st, req.ExtensionID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return st, nil
	}
	updated.UpdatedAt = m.nowFn()
	if err := m.store.PutStage(ctx, updated); err != nil {
		return nil, err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventSLAExtended,
		SessionID: req.SessionID,
		StageID:   req.StageID,
		Message:   req.Reason,
		Details:   map[string]interface{}{"extensionId": req.ExtensionID, "extensionsUsed": updated.ExtensionsUsed, "requestedBy": req.RequestedBy},
		Timestamp: updated.UpdatedAt,
	})
	return &updated, nil
}

// Snapshot assembles the read-only aggregate served to dashboards. It always
// reflects the true session state, failures included.
func (m *Machine) Snapshot(ctx context.Context, sessionID string) (*types.SessionSnapshot, error) {
	s, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := &types.SessionSnapshot{Session: *s}
	if snap.Stages, err = m.store.ListStages(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.QualityResults, err = m.store.ListQualityResults(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.SLAResults, err = m.store.ListSLAResults(ctx, sessionID); err != nil {
		return nil, err
	}
	snap.CircuitStates = m.breakers.Snapshots()
	if snap.EscalationEvents, err = m.store.ListEscalations(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.RecoveryAttempts, err = m.store.ListRecoveryAttempts(ctx, sessionID); err != nil {
		return nil, err
	}
	if snap.Events, err = m.store.ListEvents(ctx, sessionID, 0); err != nil {
		return nil, err
	}
	return snap, nil
}

func (m *Machine) loadSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("session %q: %w", sessionID, ErrSessionNotFound)
		}
		return nil, err
	}
	return s, nil
}

func (m *Machine) dispatchStage(ctx context.Context, s *types.Session, stageID string, now time.Time) error {
	st, err := m.store.GetStage(ctx, s.SessionID, stageID)
	if err != nil {
		return err
	}
	if err := m.transitionStage(ctx, st, types.StageProcessing, now); err != nil {
		return err
	}
	st.StartedAt = &now
	if err := m.store.PutStage(ctx, *st); err != nil {
		return err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventStageStarted,
		SessionID: s.SessionID,
		StageID:   stageID,
		Timestamp: now,
	})
	return nil
}

func (m *Machine) transitionStage(ctx context.Context, st *types.Stage, to types.StageStatus, now time.Time) error {
	if err := TransitionStage(st.Status, to); err != nil {
		return err
	}
	st.Status = to
	st.UpdatedAt = now
	return m.store.PutStage(ctx, *st)
}

// evaluateEscalations builds the current signal set and runs the rule engine.
func (m *Machine) evaluateEscalations(ctx context.Context, sessionID string) {
	sig, err := m.buildSignals(ctx, sessionID)
	if err != nil {
		m.logger.Error("building signal set failed", "session", sessionID, "error", err)
		return
	}
	fired := m.esc.Evaluate(ctx, sig)
	if n := len(fired); n > 0 {
		metrics.Add(ctx, m.metrics.EscalationsFired, int64(n))
	}
}

func (m *Machine) buildSignals(ctx context.Context, sessionID string) (types.SignalSet, error) {
	sig := types.SignalSet{SessionID: sessionID, StageErrors: map[string]int{}}
	var err error
	if sig.QualityResults, err = m.store.ListQualityResults(ctx, sessionID); err != nil {
		return sig, err
	}
	if sig.SLAResults, err = m.store.ListSLAResults(ctx, sessionID); err != nil {
		return sig, err
	}
	sig.CircuitStates = m.breakers.Snapshots()
	stages, err := m.store.ListStages(ctx, sessionID)
	if err != nil {
		return sig, err
	}
	for _, st := range stages {
		sig.StageErrors[st.StageID] = st.ErrorCount
	}
	return sig, nil
}

func (m *Machine) latestSLA(ctx context.Context, sessionID, stageID string) (*types.SLAResult, error) {
	results, err := m.store.ListSLAResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].StageID == stageID {
			return &results[i], nil
		}
	}
	return nil, nil
}

func (m *Machine) appendEvent(ctx context.Context, ev types.Event) {
	if err := m.store.AppendEvent(ctx, ev); err != nil {
		m.logger.Error("appending event failed", "kind", ev.Kind, "session", ev.SessionID, "error", err)
	}
}
