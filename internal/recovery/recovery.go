// Package recovery implements the recovery orchestrator: given a flagged
// failure it selects a strategy from a fixed priority list, executes it, and
// reports the outcome truthfully; Partial and Failed results are never
// upgraded to Success.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/gangplank-systems/gangplank/internal/breaker"
	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// Config bounds the orchestrator.
type Config struct {
	MaxRetryAttempts  int
	ImmediateRetryMax int // error count below which a transient failure is retried immediately
	BackoffSeconds    int
	BackoffMultiplier float64
	MaxBackoffSeconds int
}

// DefaultConfig returns the default recovery bounds.
func DefaultConfig() Config {
	return Config{
		MaxRetryAttempts:  3,
		ImmediateRetryMax: 3,
		BackoffSeconds:    defaultBackoffSeconds,
		BackoffMultiplier: defaultBackoffMultiplier,
		MaxBackoffSeconds: defaultMaxBackoffSeconds,
	}
}

// Pipeline is the subset of the state machine the orchestrator drives.
type Pipeline interface {
	// RetryStage re-dispatches a stage to its worker. A nil error means the
	// dispatch was accepted; the retried execution itself is reported back
	// asynchronously through ReportStageOutcome.
	RetryStage(ctx context.Context, sessionID, stageID string) error
	// RestoreStage resets a stage whose output contradicts invariants back to
	// a consistent pre-execution state.
	RestoreStage(ctx context.Context, sessionID, stageID string) error
	// LastCompletedStage returns the most recent stage in pipeline order with
	// status Completed, or "" when none.
	LastCompletedStage(ctx context.Context, sessionID string) (string, error)
	// ResumeFrom restarts the pipeline from the stage after the given one.
	ResumeFrom(ctx context.Context, sessionID, afterStage string) error
}

// Orchestrator selects and executes recovery strategies.
type Orchestrator struct {
	config   Config
	store    store.Store
	pipeline Pipeline
	breaker  *breaker.Manager
	probe    breaker.HealthProbe
	logger   *slog.Logger
	nowFn    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithProbe sets the health probe used before dependency-related retries.
func WithProbe(p breaker.HealthProbe) Option {
	return func(o *Orchestrator) { o.probe = p }
}

// WithNow overrides the orchestrator clock (useful for testing).
func WithNow(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFn = fn }
}

// New creates an Orchestrator, filling zero config fields from defaults.
func New(config Config, st store.Store, pipeline Pipeline, bm *breaker.Manager, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if config.MaxRetryAttempts <= 0 {
		config.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if config.ImmediateRetryMax <= 0 {
		config.ImmediateRetryMax = def.ImmediateRetryMax
	}
	if config.BackoffSeconds <= 0 {
		config.BackoffSeconds = def.BackoffSeconds
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}
	if config.MaxBackoffSeconds <= 0 {
		config.MaxBackoffSeconds = def.MaxBackoffSeconds
	}
	o := &Orchestrator{
		config:   config,
		store:    st,
		pipeline: pipeline,
		breaker:  bm,
		logger:   slog.Default(),
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// selectStrategy picks the first applicable strategy, evaluated top-down.
func (o *Orchestrator) selectStrategy(fc types.FailureContext) types.RecoveryStrategy {
	switch fc.Kind {
	case types.ErrTransient:
		if fc.ErrorCount < o.config.ImmediateRetryMax {
			return types.StrategyImmediateRetry
		}
		return types.StrategyBackoffRetry
	case types.ErrDependencyUnavailable:
		return types.StrategyBackoffRetry
	case types.ErrStateInconsistency:
		return types.StrategyStateRestoration
	case types.ErrQualityViolation:
		return types.StrategyWorkflowResumption
	default:
		return types.StrategyEscalateToHuman
	}
}

// Recover executes the selected strategy for a flagged failure. It stops at
// the first successful attempt or after maxRetryAttempts, whichever comes
// first. If the selected strategy fails outright, the orchestrator falls
// through the remainder of the priority list before escalating to a human.
func (o *Orchestrator) Recover(ctx context.Context, fc types.FailureContext) types.RecoveryResult {
	o.appendEvent(ctx, types.Event{
		Kind:      types.EventRecoveryStarted,
		SessionID: fc.SessionID,
		StageID:   fc.StageID,
		Message:   string(fc.Kind),
		Timestamp: o.nowFn(),
	})

	strategy := o.selectStrategy(fc)
	result := o.run(ctx, strategy, fc)

	// Fall through the rest of the priority list on outright failure, unless
	// the context is gone.
	for result.Status == types.RecoveryFailed && ctx.Err() == nil {
		next, ok := nextStrategy(result.Strategy)
		if !ok {
			break
		}
		result = o.run(ctx, next, fc)
	}

	o.appendEvent(ctx, types.Event{
		Kind:      types.EventRecoveryCompleted,
		SessionID: fc.SessionID,
		StageID:   fc.StageID,
		Status:    string(result.Status),
		Message:   string(result.Strategy),
		Timestamp: o.nowFn(),
	})
	return result
}

// nextStrategy returns the strategy after s in the priority list.
func nextStrategy(s types.RecoveryStrategy) (types.RecoveryStrategy, bool) {
	switch s {
	case types.StrategyImmediateRetry:
		return types.StrategyBackoffRetry, true
	case types.StrategyBackoffRetry:
		return types.StrategyStateRestoration, true
	case types.StrategyStateRestoration:
		return types.StrategyWorkflowResumption, true
	case types.StrategyWorkflowResumption:
		return types.StrategyEscalateToHuman, true
	default:
		return "", false
	}
}

func (o *Orchestrator) run(ctx context.Context, strategy types.RecoveryStrategy, fc types.FailureContext) types.RecoveryResult {
	switch strategy {
	case types.StrategyImmediateRetry:
		return o.retry(ctx, fc, false)
	case types.StrategyBackoffRetry:
		return o.retry(ctx, fc, true)
	case types.StrategyStateRestoration:
		return o.restore(ctx, fc)
	case types.StrategyWorkflowResumption:
		return o.resume(ctx, fc)
	default:
		return o.escalate(ctx, fc)
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, ev types.Event) {
	if err := o.store.AppendEvent(ctx, ev); err != nil {
		o.logger.Error("appending event failed", "session", ev.SessionID, "kind", ev.Kind, "error", err)
	}
}

// record persists one attempt in the session's ordered recovery ledger.
func (o *Orchestrator) record(ctx context.Context, a types.RecoveryAttempt) {
	if err := o.store.AppendRecoveryAttempt(ctx, a); err != nil {
		o.logger.Error("recording recovery attempt failed", "session", a.SessionID, "error", err)
	}
	o.appendEvent(ctx, types.Event{
		Kind:      types.EventRecoveryAttempted,
		SessionID: a.SessionID,
		StageID:   a.StageID,
		Status:    string(a.Status),
		Message:   string(a.Strategy),
		Details:   map[string]interface{}{"attempt": a.AttemptNumber},
		Timestamp: o.nowFn(),
	})
}
