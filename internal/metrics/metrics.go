// Package metrics provides the per-process metrics aggregator injected into
// each component. Counters are atomic and components never reach into ambient
// global state.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics aggregates the core's operational counters.
type Metrics struct {
	SessionsStarted     metric.Int64Counter
	SessionsCompleted   metric.Int64Counter
	SessionsFailed      metric.Int64Counter
	SessionsCancelled   metric.Int64Counter
	StagesCompleted     metric.Int64Counter
	GateFailures        metric.Int64Counter
	GateBypasses        metric.Int64Counter
	SLABreaches         metric.Int64Counter
	CircuitOpens        metric.Int64Counter
	EscalationsFired    metric.Int64Counter
	RecoveriesAttempted metric.Int64Counter
	RecoveriesPartial   metric.Int64Counter
	NotificationsFailed metric.Int64Counter
}

// New creates the aggregator from a meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.SessionsStarted, "gangplank_sessions_started_total", "Sessions started"},
		{&m.SessionsCompleted, "gangplank_sessions_completed_total", "Sessions completed"},
		{&m.SessionsFailed, "gangplank_sessions_failed_total", "Sessions that stopped requiring recovery"},
		{&m.SessionsCancelled, "gangplank_sessions_cancelled_total", "Sessions cancelled"},
		{&m.StagesCompleted, "gangplank_stages_completed_total", "Stages completed"},
		{&m.GateFailures, "gangplank_gate_failures_total", "Quality gate failures"},
		{&m.GateBypasses, "gangplank_gate_bypasses_total", "Authorized quality gate bypasses"},
		{&m.SLABreaches, "gangplank_sla_breaches_total", "SLA breaches detected"},
		{&m.CircuitOpens, "gangplank_circuit_opens_total", "Circuit breaker opens"},
		{&m.EscalationsFired, "gangplank_escalations_fired_total", "Escalation events fired"},
		{&m.RecoveriesAttempted, "gangplank_recoveries_attempted_total", "Recovery passes attempted"},
		{&m.RecoveriesPartial, "gangplank_recoveries_partial_total", "Recovery passes ending Partial"},
		{&m.NotificationsFailed, "gangplank_notifications_failed_total", "Notification delivery failures"},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNoop returns an aggregator that discards everything, for tests and for
// deployments with metrics disabled.
func NewNoop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter("gangplank"))
	return m
}

// Add is a nil-safe increment helper.
func Add(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}
