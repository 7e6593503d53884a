package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// partition holds all records for one session. Each partition has its own
// lock; sessions never contend with each other.
type partition struct {
	mu          sync.RWMutex
	session     types.Session
	stages      map[string]types.Stage
	quality     []types.QualityGateResult
	sla         map[string]types.SLAResult
	escalations map[string]types.EscalationEvent
	escOrder    []string
	recovery    []types.RecoveryAttempt
	events      []types.Event
}

// Memory is an in-process Store implementation. It is the default backend for
// single-node deployments and tests.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{partitions: make(map[string]*partition)}
}

func (m *Memory) part(sessionID string) *partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[sessionID]
	if !ok {
		p = &partition{
			stages:      make(map[string]types.Stage),
			sla:         make(map[string]types.SLAResult),
			escalations: make(map[string]types.EscalationEvent),
		}
		m.partitions[sessionID] = p
	}
	return p
}

func (m *Memory) lookup(sessionID string) (*partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[sessionID]
	return p, ok
}

// PutSession stores or replaces a session record.
func (m *Memory) PutSession(_ context.Context, s types.Session) error {
	p := m.part(s.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
	return nil
}

// GetSession returns a session by ID, or ErrNotFound.
func (m *Memory) GetSession(_ context.Context, sessionID string) (*types.Session, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session.SessionID == "" {
		return nil, ErrNotFound
	}
	s := p.session
	return &s, nil
}

// ListSessions returns up to limit sessions, most recently started first.
func (m *Memory) ListSessions(_ context.Context, limit int) ([]types.Session, error) {
	m.mu.RLock()
	var out []types.Session
	for _, p := range m.partitions {
		p.mu.RLock()
		if p.session.SessionID != "" {
			out = append(out, p.session)
		}
		p.mu.RUnlock()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutStage stores or replaces a stage record.
func (m *Memory) PutStage(_ context.Context, st types.Stage) error {
	p := m.part(st.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages[st.StageID] = st
	return nil
}

// GetStage returns one stage record, or ErrNotFound.
func (m *Memory) GetStage(_ context.Context, sessionID, stageID string) (*types.Stage, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.stages[stageID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

// ListStages returns all stage records for a session, ordered by stage ID.
// Callers that need pipeline order should sort against the configured order.
func (m *Memory) ListStages(_ context.Context, sessionID string) ([]types.Stage, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Stage, 0, len(p.stages))
	for _, st := range p.stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out, nil
}

// AppendQualityResult appends a gate evaluation to the session's history.
func (m *Memory) AppendQualityResult(_ context.Context, r types.QualityGateResult) error {
	p := m.part(r.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quality = append(p.quality, r)
	return nil
}

// ListQualityResults returns the gate evaluation history in append order.
func (m *Memory) ListQualityResults(_ context.Context, sessionID string) ([]types.QualityGateResult, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.QualityGateResult, len(p.quality))
	copy(out, p.quality)
	return out, nil
}

// PutSLAResult stores the latest SLA snapshot for a stage.
func (m *Memory) PutSLAResult(_ context.Context, r types.SLAResult) error {
	p := m.part(r.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sla[r.StageID] = r
	return nil
}

// ListSLAResults returns the latest SLA snapshot per stage.
func (m *Memory) ListSLAResults(_ context.Context, sessionID string) ([]types.SLAResult, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.SLAResult, 0, len(p.sla))
	for _, r := range p.sla {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out, nil
}

// PutEscalation stores or replaces an escalation event.
func (m *Memory) PutEscalation(_ context.Context, e types.EscalationEvent) error {
	p := m.part(e.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.escalations[e.EventID]; !ok {
		p.escOrder = append(p.escOrder, e.EventID)
	}
	p.escalations[e.EventID] = e
	return nil
}

// GetEscalation returns one escalation event, or ErrNotFound.
func (m *Memory) GetEscalation(_ context.Context, sessionID, eventID string) (*types.EscalationEvent, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.escalations[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// ListEscalations returns escalation events in fire order.
func (m *Memory) ListEscalations(_ context.Context, sessionID string) ([]types.EscalationEvent, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.EscalationEvent, 0, len(p.escOrder))
	for _, id := range p.escOrder {
		out = append(out, p.escalations[id])
	}
	return out, nil
}

// AppendRecoveryAttempt appends to the session's ordered recovery ledger.
func (m *Memory) AppendRecoveryAttempt(_ context.Context, a types.RecoveryAttempt) error {
	p := m.part(a.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recovery = append(p.recovery, a)
	return nil
}

// ListRecoveryAttempts returns the recovery ledger in append order.
func (m *Memory) ListRecoveryAttempts(_ context.Context, sessionID string) ([]types.RecoveryAttempt, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.RecoveryAttempt, len(p.recovery))
	copy(out, p.recovery)
	return out, nil
}

// AppendEvent appends to the session's audit log.
func (m *Memory) AppendEvent(_ context.Context, e types.Event) error {
	p := m.part(e.SessionID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// ListEvents returns up to limit audit events, oldest first.
func (m *Memory) ListEvents(_ context.Context, sessionID string, limit int) ([]types.Event, error) {
	p, ok := m.lookup(sessionID)
	if !ok {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	events := p.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]types.Event, len(events))
	copy(out, events)
	return out, nil
}

// Start is a no-op for the in-memory store.
func (m *Memory) Start(_ context.Context) error { return nil }

// Stop is a no-op for the in-memory store.
func (m *Memory) Stop(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (m *Memory) Ping(_ context.Context) error { return nil }
