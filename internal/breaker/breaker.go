// Package breaker implements the per-dependency circuit breaker manager. It
// is the single source of truth for fail-fast decisions: callers must consult
// Allow before touching a dependency whose circuit may be open.
package breaker

import (
	"sync"
	"time"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// nowFn is the package clock, overridable in tests.
var nowFn = time.Now

// Config holds circuit breaker settings shared by all monitored services.
type Config struct {
	FailureThreshold  int           // consecutive failures before opening
	SuccessThreshold  int           // consecutive half-open successes before closing
	RecoveryTimeout   time.Duration // how long to stay open before probing
	HalfOpenMaxProbes int           // probe budget while half-open
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

// circuit is the state for one monitored dependency. Writes are serialized
// by the per-circuit mutex; snapshots copy under the same lock.
type circuit struct {
	mu                sync.Mutex
	state             types.CircuitState
	failureCount      int
	halfOpenSuccesses int
	halfOpenProbes    int
	lastFailureAt     time.Time
	openedAt          time.Time
}

// Manager tracks circuit state per service name. Its state is shared across
// all sessions.
type Manager struct {
	mu       sync.RWMutex
	config   Config
	circuits map[string]*circuit
}

// New creates a Manager with the given config, filling zero fields from
// defaults.
func New(config Config) *Manager {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &Manager{config: config, circuits: make(map[string]*circuit)}
}

func (m *Manager) circuitFor(service string) *circuit {
	m.mu.RLock()
	c, ok := m.circuits[service]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.circuits[service]; ok {
		return c
	}
	c = &circuit{state: types.CircuitClosed}
	m.circuits[service] = c
	return c
}

// Allow reports whether a call to the service should proceed. Open circuits
// transition to half-open once the recovery timeout has elapsed; half-open
// circuits admit a bounded number of probes.
func (m *Manager) Allow(service string, now time.Time) bool {
	c := m.circuitFor(service)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case types.CircuitClosed:
		return true
	case types.CircuitOpen:
		if now.Sub(c.openedAt) >= m.config.RecoveryTimeout {
			c.state = types.CircuitHalfOpen
			c.halfOpenSuccesses = 0
			c.halfOpenProbes = 1
			return true
		}
		return false
	case types.CircuitHalfOpen:
		if c.halfOpenProbes >= m.config.HalfOpenMaxProbes {
			return false
		}
		c.halfOpenProbes++
		return true
	}
	return true
}

// RecordOutcome updates the circuit for one observed call outcome and returns
// the resulting state plus the recommended action. Failures recorded while
// the circuit is already open return ActionNone without incrementing the
// failure count.
func (m *Manager) RecordOutcome(service string, healthy bool, now time.Time) (types.CircuitSnapshot, types.RecommendedAction) {
	c := m.circuitFor(service)
	c.mu.Lock()
	defer c.mu.Unlock()

	action := types.ActionNone

	switch c.state {
	case types.CircuitClosed:
		if healthy {
			c.failureCount = 0
			break
		}
		c.failureCount++
		c.lastFailureAt = now
		if c.failureCount >= m.config.FailureThreshold {
			c.state = types.CircuitOpen
			c.openedAt = now
			action = types.ActionOpenCircuit
		}

	case types.CircuitOpen:
		// Recovery timeout elapsed: the next evaluation moves to half-open.
		if now.Sub(c.openedAt) >= m.config.RecoveryTimeout {
			c.state = types.CircuitHalfOpen
			c.halfOpenSuccesses = 0
			c.halfOpenProbes = 0
			action = types.ActionTransitionHalfOpen
			// Re-apply the outcome as a half-open probe result.
			return m.recordHalfOpenLocked(c, service, healthy, now)
		}
		// Already open: fail fast, no further counting.

	case types.CircuitHalfOpen:
		return m.recordHalfOpenLocked(c, service, healthy, now)
	}

	return snapshotLocked(service, c), action
}

// recordHalfOpenLocked applies a probe outcome. One failed probe reopens
// immediately; successThreshold consecutive successes close the circuit.
// Caller must hold c.mu.
func (m *Manager) recordHalfOpenLocked(c *circuit, service string, healthy bool, now time.Time) (types.CircuitSnapshot, types.RecommendedAction) {
	if !healthy {
		c.state = types.CircuitOpen
		c.openedAt = now
		c.lastFailureAt = now
		c.failureCount++
		c.halfOpenSuccesses = 0
		return snapshotLocked(service, c), types.ActionReopenCircuit
	}
	c.halfOpenSuccesses++
	if c.halfOpenSuccesses >= m.config.SuccessThreshold {
		c.state = types.CircuitClosed
		c.failureCount = 0
		c.halfOpenSuccesses = 0
		c.halfOpenProbes = 0
		return snapshotLocked(service, c), types.ActionCloseCircuit
	}
	return snapshotLocked(service, c), types.ActionNone
}

// State returns the current state for a service, evaluating the open→half-open
// timeout so readers never see a stale Open past its recovery window.
func (m *Manager) State(service string, now time.Time) types.CircuitState {
	c := m.circuitFor(service)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.CircuitOpen && now.Sub(c.openedAt) >= m.config.RecoveryTimeout {
		c.state = types.CircuitHalfOpen
		c.halfOpenSuccesses = 0
		c.halfOpenProbes = 0
	}
	return c.state
}

// Reset forces a circuit back to closed. Used by the recovery orchestrator's
// CircuitReset action.
func (m *Manager) Reset(service string) {
	c := m.circuitFor(service)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = types.CircuitClosed
	c.failureCount = 0
	c.halfOpenSuccesses = 0
	c.halfOpenProbes = 0
}

// Snapshot returns a read-only view of one service's circuit.
func (m *Manager) Snapshot(service string) types.CircuitSnapshot {
	c := m.circuitFor(service)
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshotLocked(service, c)
}

// Snapshots returns views of all known circuits, for session snapshots and
// escalation evaluation.
func (m *Manager) Snapshots() []types.CircuitSnapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.circuits))
	for name := range m.circuits {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make([]types.CircuitSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, m.Snapshot(name))
	}
	return out
}

func snapshotLocked(service string, c *circuit) types.CircuitSnapshot {
	snap := types.CircuitSnapshot{
		ServiceName:  service,
		State:        c.state,
		FailureCount: c.failureCount,
	}
	if !c.lastFailureAt.IsZero() {
		t := c.lastFailureAt
		snap.LastFailureAt = &t
	}
	if !c.openedAt.IsZero() && c.state != types.CircuitClosed {
		t := c.openedAt
		snap.OpenedAt = &t
	}
	return snap
}
