package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

const defaultPollInterval = 30 * time.Second

// outcomeRequest carries one reported outcome into a session loop together
// with its reply channel.
type outcomeRequest struct {
	outcome types.StageOutcome
	reply   chan outcomeReply
}

type outcomeReply struct {
	stage *types.Stage
	err   error
}

// Manager runs one goroutine per active session. The loop is the session's
// single logical worker: it applies reported outcomes, polls SLA state, and
// exits when the session reaches a terminal status or the manager shuts down.
type Manager struct {
	machine *Machine
	poll    time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	sessions map[string]*sessionLoop
	closed   bool
}

type sessionLoop struct {
	outcomes chan outcomeRequest
	cancel   context.CancelFunc
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPollInterval overrides the SLA poll interval.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.poll = d }
}

// WithManagerLogger overrides the default logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a session manager over a machine.
func NewManager(machine *Machine, opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	m := &Manager{
		machine:  machine,
		poll:     defaultPollInterval,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		group:    g,
		sessions: make(map[string]*sessionLoop),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Machine exposes the underlying state machine for read-only surfaces.
func (m *Manager) Machine() *Machine { return m.machine }

// StartSession creates a session and spawns its worker loop.
func (m *Manager) StartSession(ctx context.Context, subjectID string) (*types.Session, error) {
	s, err := m.machine.StartSession(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	m.spawn(s.SessionID)
	return s, nil
}

func (m *Manager) spawn(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.sessions[sessionID]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(m.ctx)
	loop := &sessionLoop{
		outcomes: make(chan outcomeRequest),
		cancel:   cancel,
	}
	m.sessions[sessionID] = loop
	m.group.Go(func() error {
		defer m.forget(sessionID)
		m.run(loopCtx, sessionID, loop)
		return nil
	})
}

func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	if loop, ok := m.sessions[sessionID]; ok {
		loop.cancel()
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
}

// run is the per-session worker loop. Waiting for an outcome is the only
// suspension point besides recovery backoff; both observe cancellation.
func (m *Manager) run(ctx context.Context, sessionID string, loop *sessionLoop) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-loop.outcomes:
			st, err := m.machine.ReportStageOutcome(ctx, req.outcome)
			req.reply <- outcomeReply{stage: st, err: err}
			if m.terminal(ctx, sessionID) {
				return
			}
		case <-ticker.C:
			if _, err := m.machine.CheckSLAs(ctx, sessionID); err != nil {
				m.logger.Error("sla check failed", "session", sessionID, "error", err)
			}
			if m.terminal(ctx, sessionID) {
				return
			}
		}
	}
}

func (m *Manager) terminal(ctx context.Context, sessionID string) bool {
	s, err := m.machine.loadSession(ctx, sessionID)
	if err != nil {
		return true
	}
	return IsTerminalSession(s.Status)
}

// Report routes an outcome to the owning session loop so each session keeps
// a single writer. Sessions without a live loop (after a restart) are
// re-adopted first.
func (m *Manager) Report(ctx context.Context, out types.StageOutcome) (*types.Stage, error) {
	m.mu.Lock()
	loop, ok := m.sessions[out.SessionID]
	m.mu.Unlock()
	if !ok {
		if s, err := m.machine.loadSession(ctx, out.SessionID); err != nil {
			return nil, err
		} else if IsTerminalSession(s.Status) {
			return nil, ErrSessionTerminal
		}
		m.spawn(out.SessionID)
		m.mu.Lock()
		loop = m.sessions[out.SessionID]
		m.mu.Unlock()
		if loop == nil {
			// Manager shutting down; apply directly.
			return m.machine.ReportStageOutcome(ctx, out)
		}
	}

	req := outcomeRequest{outcome: out, reply: make(chan outcomeReply, 1)}
	select {
	case loop.outcomes <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, m.ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.stage, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel terminates a session and releases its loop and any pending timers.
// The loop context is cancelled first so an in-flight recovery backoff is
// interrupted immediately instead of queueing the cancellation behind it.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if loop, ok := m.sessions[sessionID]; ok {
		loop.cancel()
	}
	m.mu.Unlock()

	if err := m.machine.Cancel(ctx, sessionID); err != nil {
		return err
	}
	m.forget(sessionID)
	return nil
}

// Adopt spawns loops for every non-terminal session already in the store,
// used after a process restart with a durable registry.
func (m *Manager) Adopt(ctx context.Context) error {
	sessions, err := m.machine.store.ListSessions(ctx, 0)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if !IsTerminalSession(s.Status) {
			m.spawn(s.SessionID)
		}
	}
	return nil
}

// Close stops every session loop and waits for them to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	return m.group.Wait()
}
