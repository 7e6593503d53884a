package pipeline

// The methods in this file are callbacks invoked by the escalation engine
// and the recovery orchestrator. They always run under the owning session's
// serialization, so they must not take the session lock themselves.

import (
	"context"
	"fmt"

	"github.com/gangplank-systems/gangplank/internal/metrics"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// PausePipeline halts auto-advancement for the session until an operator
// resumes it.
func (m *Machine) PausePipeline(ctx context.Context, sessionID string) error {
	s, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if IsTerminalSession(s.Status) || s.Paused {
		return nil
	}
	now := m.nowFn()
	s.Paused = true
	s.UpdatedAt = now
	if err := m.store.PutSession(ctx, *s); err != nil {
		return err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventPipelinePaused,
		SessionID: sessionID,
		Timestamp: now,
	})
	return nil
}

// RestartDependency resets the service's circuit so traffic can be retried
// once the dependency is restarted out of band.
func (m *Machine) RestartDependency(ctx context.Context, service string) error {
	if m.probe != nil && !m.probe.Check(ctx, service) {
		return fmt.Errorf("dependency %q still unhealthy after restart request", service)
	}
	m.breakers.Reset(service)
	m.logger.Info("dependency circuit reset", "service", service)
	return nil
}

// CreateIncident opens an incident record via the notification collaborator.
func (m *Machine) CreateIncident(ctx context.Context, ic types.IncidentContext) (string, error) {
	ticketID, err := m.notifier.CreateIncident(ctx, ic)
	if err != nil {
		metrics.Add(ctx, m.metrics.NotificationsFailed, 1)
		return "", err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventIncidentCreated,
		SessionID: ic.SessionID,
		StageID:   ic.StageID,
		Message:   ticketID,
		Timestamp: m.nowFn(),
	})
	return ticketID, nil
}

// RetryStage re-dispatches a failed stage to its worker. The dispatch being
// accepted says nothing about the retried execution, which the worker reports
// back through the normal outcome path. The SLA clock keeps running from the
// original start.
func (m *Machine) RetryStage(ctx context.Context, sessionID, stageID string) error {
	st, err := m.store.GetStage(ctx, sessionID, stageID)
	if err != nil {
		return err
	}
	now := m.nowFn()
	if err := m.transitionStage(ctx, st, types.StageProcessing, now); err != nil {
		return err
	}
	st.CompletedAt = nil
	if st.StartedAt == nil {
		st.StartedAt = &now
	}
	if err := m.store.PutStage(ctx, *st); err != nil {
		return err
	}
	m.appendEvent(ctx, types.Event{
		Kind:      types.EventStageStarted,
		SessionID: sessionID,
		StageID:   stageID,
		Message:   "retry dispatched",
		Timestamp: now,
	})
	return nil
}

// RestoreStage resets a stage whose output contradicts invariants back to a
// consistent pre-execution state. Error history is kept.
func (m *Machine) RestoreStage(ctx context.Context, sessionID, stageID string) error {
	st, err := m.store.GetStage(ctx, sessionID, stageID)
	if err != nil {
		return err
	}
	now := m.nowFn()
	if err := TransitionStage(st.Status, types.StageWaiting); err != nil {
		return err
	}
	st.Status = types.StageWaiting
	st.Progress = 0
	st.Output = nil
	st.StartedAt = nil
	st.CompletedAt = nil
	st.UpdatedAt = now
	return m.store.PutStage(ctx, *st)
}

// LastCompletedStage returns the most recent stage in configured order with
// status Completed, or "" when none.
func (m *Machine) LastCompletedStage(ctx context.Context, sessionID string) (string, error) {
	stages, err := m.store.ListStages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	byID := make(map[string]types.Stage, len(stages))
	for _, st := range stages {
		byID[st.StageID] = st
	}
	last := ""
	for _, sc := range m.cfg.Stages {
		if st, ok := byID[sc.Name]; ok && st.Status == types.StageCompleted {
			last = sc.Name
		}
	}
	return last, nil
}

// ResumeFrom restarts the pipeline from the stage after the given one.
// Passing "" restarts from the first stage.
func (m *Machine) ResumeFrom(ctx context.Context, sessionID, afterStage string) error {
	s, err := m.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if IsTerminalSession(s.Status) {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionTerminal)
	}

	start := 0
	if afterStage != "" {
		idx := m.cfg.StageIndex(afterStage)
		if idx < 0 {
			return fmt.Errorf("unknown stage %q", afterStage)
		}
		start = idx + 1
	}
	if start >= len(m.cfg.Stages) {
		now := m.nowFn()
		return m.finishSession(ctx, s, now)
	}

	now := m.nowFn()
	stages, err := m.store.ListStages(ctx, sessionID)
	if err != nil {
		return err
	}
	index := make(map[string]types.Stage, len(stages))
	for _, st := range stages {
		index[st.StageID] = st
	}
	for i := start; i < len(m.cfg.Stages); i++ {
		st, ok := index[m.cfg.Stages[i].Name]
		if !ok || st.Status == types.StageWaiting {
			continue
		}
		if !CanTransitionStage(st.Status, types.StageWaiting) {
			continue
		}
		st.Status = types.StageWaiting
		st.Progress = 0
		st.Output = nil
		st.StartedAt = nil
		st.CompletedAt = nil
		st.UpdatedAt = now
		if err := m.store.PutStage(ctx, st); err != nil {
			return err
		}
	}

	s.CurrentIndex = start
	s.CurrentStage = m.cfg.Stages[start].Name
	s.OverallProgress = float64(start) / float64(len(m.cfg.Stages)) * 100
	s.UpdatedAt = now
	if err := m.store.PutSession(ctx, *s); err != nil {
		return err
	}
	return m.dispatchStage(ctx, s, s.CurrentStage, now)
}
