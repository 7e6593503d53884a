package recovery

import (
	"context"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// retry re-dispatches the failed stage up to maxRetryAttempts times. With
// backoff enabled each dispatch waits an exponentially growing, cancellable
// delay keyed on the stage's cumulative retry count, so repeated recovery
// passes keep backing further off; dependency failures additionally gate on
// the circuit breaker so an unhealthy dependency cannot exhaust the retry
// budget. An accepted dispatch is at most Partial: the worker reports the
// retried execution asynchronously, so a dispatch alone cannot prove a clean
// run.
func (o *Orchestrator) retry(ctx context.Context, fc types.FailureContext, backoff bool) types.RecoveryResult {
	strategy := types.StrategyImmediateRetry
	if backoff {
		strategy = types.StrategyBackoffRetry
	}
	result := types.RecoveryResult{
		SessionID: fc.SessionID,
		StageID:   fc.StageID,
		Strategy:  strategy,
		Status:    types.RecoveryFailed,
	}

	for attempt := 1; attempt <= o.config.MaxRetryAttempts; attempt++ {
		if backoff {
			if n := fc.RetryCount + attempt - 1; n > 0 {
				if err := sleep(ctx, o.calculateBackoff(n)); err != nil {
					result.Message = "cancelled during backoff"
					return result
				}
			}
		}
		if ctx.Err() != nil {
			result.Message = "cancelled"
			return result
		}

		// Fail fast on an open circuit instead of burning a real attempt.
		if fc.Service != "" && o.breaker != nil && !o.breaker.Allow(fc.Service, o.nowFn()) {
			a := o.newAttempt(fc, types.RecoveryRetry, strategy, attempt)
			a.Status = types.RecoveryFailed
			a.Result = map[string]interface{}{"failFast": true, "service": fc.Service}
			o.record(ctx, a)
			result.Attempts = append(result.Attempts, a)
			continue
		}

		a := o.newAttempt(fc, types.RecoveryRetry, strategy, attempt)
		start := o.nowFn()
		err := o.pipeline.RetryStage(ctx, fc.SessionID, fc.StageID)
		a.DurationSeconds = o.nowFn().Sub(start).Seconds()

		if fc.Service != "" && o.breaker != nil {
			o.breaker.RecordOutcome(fc.Service, err == nil, o.nowFn())
		}

		if err == nil {
			a.Status = types.RecoverySuccess
			a.Result = map[string]interface{}{"redispatched": true}
			o.record(ctx, a)
			result.Attempts = append(result.Attempts, a)
			result.Status = types.RecoveryPartial
			result.Message = "stage re-dispatched, awaiting worker outcome"
			return result
		}

		a.Status = types.RecoveryFailed
		a.Result = map[string]interface{}{"error": err.Error()}
		o.record(ctx, a)
		result.Attempts = append(result.Attempts, a)
	}

	result.Message = "retry attempts exhausted"
	return result
}

// restore resets an inconsistent stage and re-dispatches it once. Both halves
// succeeding is still a Partial outcome, since the re-dispatched execution
// completes asynchronously; a failed re-dispatch after a successful restore
// is Partial with the failure noted.
func (o *Orchestrator) restore(ctx context.Context, fc types.FailureContext) types.RecoveryResult {
	result := types.RecoveryResult{
		SessionID: fc.SessionID,
		StageID:   fc.StageID,
		Strategy:  types.StrategyStateRestoration,
		Status:    types.RecoveryFailed,
	}

	a := o.newAttempt(fc, types.RecoveryStateRestore, types.StrategyStateRestoration, 1)
	start := o.nowFn()
	err := o.pipeline.RestoreStage(ctx, fc.SessionID, fc.StageID)
	a.DurationSeconds = o.nowFn().Sub(start).Seconds()
	if err != nil {
		a.Status = types.RecoveryFailed
		a.Result = map[string]interface{}{"error": err.Error()}
		o.record(ctx, a)
		result.Attempts = append(result.Attempts, a)
		result.Message = "state restoration failed"
		return result
	}
	a.Status = types.RecoverySuccess
	o.record(ctx, a)
	result.Attempts = append(result.Attempts, a)

	retryAttempt := o.newAttempt(fc, types.RecoveryRetry, types.StrategyStateRestoration, 2)
	start = o.nowFn()
	err = o.pipeline.RetryStage(ctx, fc.SessionID, fc.StageID)
	retryAttempt.DurationSeconds = o.nowFn().Sub(start).Seconds()
	if err != nil {
		retryAttempt.Status = types.RecoveryFailed
		retryAttempt.Result = map[string]interface{}{"error": err.Error()}
		o.record(ctx, retryAttempt)
		result.Attempts = append(result.Attempts, retryAttempt)
		result.Status = types.RecoveryPartial
		result.Message = "state restored but re-execution failed"
		return result
	}
	retryAttempt.Status = types.RecoverySuccess
	retryAttempt.Result = map[string]interface{}{"redispatched": true}
	o.record(ctx, retryAttempt)
	result.Attempts = append(result.Attempts, retryAttempt)
	result.Status = types.RecoveryPartial
	result.Message = "state restored, stage re-dispatched"
	return result
}

// resume restarts the pipeline from the stage after the last Completed one.
func (o *Orchestrator) resume(ctx context.Context, fc types.FailureContext) types.RecoveryResult {
	result := types.RecoveryResult{
		SessionID: fc.SessionID,
		StageID:   fc.StageID,
		Strategy:  types.StrategyWorkflowResumption,
		Status:    types.RecoveryFailed,
	}

	last, err := o.pipeline.LastCompletedStage(ctx, fc.SessionID)
	if err != nil {
		result.Message = "no resumable checkpoint: " + err.Error()
		return result
	}

	a := o.newAttempt(fc, types.RecoveryWorkflowResume, types.StrategyWorkflowResumption, 1)
	a.Result = map[string]interface{}{"resumeAfter": last}
	start := o.nowFn()
	err = o.pipeline.ResumeFrom(ctx, fc.SessionID, last)
	a.DurationSeconds = o.nowFn().Sub(start).Seconds()
	if err != nil {
		a.Status = types.RecoveryFailed
		a.Result["error"] = err.Error()
		o.record(ctx, a)
		result.Attempts = append(result.Attempts, a)
		result.Message = "workflow resumption failed"
		return result
	}
	a.Status = types.RecoverySuccess
	o.record(ctx, a)
	result.Attempts = append(result.Attempts, a)
	result.Status = types.RecoverySuccess
	result.ResumeFrom = last
	return result
}

// escalate is the terminal strategy: record the exhaustion and hand the
// failure to a human. Before giving up it tries one circuit reset when the
// failure names a dependency whose probe now reports healthy.
func (o *Orchestrator) escalate(ctx context.Context, fc types.FailureContext) types.RecoveryResult {
	result := types.RecoveryResult{
		SessionID: fc.SessionID,
		StageID:   fc.StageID,
		Strategy:  types.StrategyEscalateToHuman,
		Status:    types.RecoveryFailed,
		Message:   "automatic recovery exhausted, human intervention required",
	}

	if fc.Service != "" && o.breaker != nil && o.probe != nil {
		if healthy := o.probe.Check(ctx, fc.Service); healthy {
			a := o.newAttempt(fc, types.RecoveryCircuitReset, types.StrategyEscalateToHuman, 1)
			o.breaker.Reset(fc.Service)
			a.Status = types.RecoverySuccess
			a.Result = map[string]interface{}{"service": fc.Service}
			o.record(ctx, a)
			result.Attempts = append(result.Attempts, a)
			// The dependency recovered even though the stage did not; the
			// pipeline can resume with reduced guarantees.
			result.Status = types.RecoveryPartial
			result.Message = "dependency circuit reset; stage still requires attention"
			return result
		}
	}

	a := o.newAttempt(fc, types.RecoveryRetry, types.StrategyEscalateToHuman, 1)
	a.Status = types.RecoveryFailed
	a.Result = map[string]interface{}{"reason": "strategies exhausted"}
	o.record(ctx, a)
	result.Attempts = append(result.Attempts, a)
	return result
}

func (o *Orchestrator) newAttempt(fc types.FailureContext, kind types.RecoveryActionKind, strategy types.RecoveryStrategy, n int) types.RecoveryAttempt {
	return types.RecoveryAttempt{
		SessionID:     fc.SessionID,
		StageID:       fc.StageID,
		Strategy:      strategy,
		Action:        kind,
		AttemptNumber: n,
		StartedAt:     o.nowFn(),
	}
}
