// Package testutil provides shared test utilities for Gangplank.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// Clock is a controllable clock for components taking a WithNow option.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at the given instant.
func NewClock(at time.Time) *Clock {
	return &Clock{now: at}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to an absolute instant.
func (c *Clock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

// Notification is one recorded Notify call.
type Notification struct {
	Recipients  []string
	Level       types.EscalationLevel
	Message     string
	RequiresAck bool
}

// NotifyRecorder records notifications and incidents instead of delivering
// them. It satisfies both the escalation engine's and the machine's notifier
// contracts.
type NotifyRecorder struct {
	mu            sync.Mutex
	notifications []Notification
	incidents     []types.IncidentContext
	NotifyErr     error
	IncidentErr   error
}

// NewNotifyRecorder creates an empty recorder.
func NewNotifyRecorder() *NotifyRecorder {
	return &NotifyRecorder{}
}

// Notify records the call and returns a synthetic notification ID.
func (r *NotifyRecorder) Notify(_ context.Context, recipients []string, level types.EscalationLevel, message string, requiresAck bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.NotifyErr != nil {
		return "", r.NotifyErr
	}
	r.notifications = append(r.notifications, Notification{
		Recipients:  recipients,
		Level:       level,
		Message:     message,
		RequiresAck: requiresAck,
	})
	return "note-1", nil
}

// CreateIncident records the call and returns a synthetic ticket ID.
func (r *NotifyRecorder) CreateIncident(_ context.Context, ic types.IncidentContext) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.IncidentErr != nil {
		return "", r.IncidentErr
	}
	r.incidents = append(r.incidents, ic)
	return "INC-1", nil
}

// Notifications returns a copy of the recorded notifications.
func (r *NotifyRecorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// Incidents returns a copy of the recorded incident contexts.
func (r *NotifyRecorder) Incidents() []types.IncidentContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.IncidentContext, len(r.incidents))
	copy(out, r.incidents)
	return out
}

// ScriptedProbe returns a deterministic sequence of health results per
// service, repeating the last entry once exhausted.
type ScriptedProbe struct {
	mu      sync.Mutex
	results map[string][]bool
	calls   map[string]int
}

// NewScriptedProbe creates a probe with per-service result scripts.
func NewScriptedProbe(results map[string][]bool) *ScriptedProbe {
	return &ScriptedProbe{results: results, calls: map[string]int{}}
}

// Check pops the next scripted result for the service. Unknown services are
// healthy.
func (p *ScriptedProbe) Check(_ context.Context, service string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	script, ok := p.results[service]
	if !ok || len(script) == 0 {
		return true
	}
	i := p.calls[service]
	p.calls[service]++
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i]
}

// Calls returns how many times the service was probed.
func (p *ScriptedProbe) Calls(service string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[service]
}
