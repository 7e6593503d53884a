package breaker

import "context"

// HealthProbe checks whether an external dependency is currently healthy.
// Production implementations call the real dependency; tests inject
// deterministic sequences.
type HealthProbe interface {
	Check(ctx context.Context, service string) bool
}

// ProbeFunc adapts a function to the HealthProbe interface.
type ProbeFunc func(ctx context.Context, service string) bool

// Check calls the underlying function.
func (f ProbeFunc) Check(ctx context.Context, service string) bool { return f(ctx, service) }

// Probe runs one health check through the breaker: it consults Allow first,
// records the outcome, and returns whether the call was made and was healthy.
// When the circuit is open the probe fails fast without touching the service.
func (m *Manager) Probe(ctx context.Context, probe HealthProbe, service string) (healthy, attempted bool) {
	now := nowFn()
	if !m.Allow(service, now) {
		return false, false
	}
	healthy = probe.Check(ctx, service)
	m.RecordOutcome(service, healthy, nowFn())
	return healthy, true
}
