// Package sla implements the SLA monitor: elapsed/remaining time
// classification against configured thresholds, completion prediction, and
// breach probability. The monitor only classifies; blocking decisions belong
// to the escalation rule engine.
package sla

import (
	"fmt"
	"time"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

const (
	// progressEpsilon floors the reported progress used for extrapolation so
	// a stage at 0% still yields a finite prediction.
	progressEpsilon = 1.0
	// errorPenalty inflates the predicted total per recorded stage error.
	errorPenalty = 0.10
)

// ErrExtensionsExhausted is returned when a stage has consumed maxExtensions.
var ErrExtensionsExhausted = fmt.Errorf("sla extensions exhausted")

// ErrExtensionsNotAllowed is returned when the stage's SLA forbids extensions.
var ErrExtensionsNotAllowed = fmt.Errorf("sla extensions not allowed")

// Validate enforces the threshold ordering invariant
// target < warning < critical < breach. Loading a config that violates it
// must fail, never silently normalize.
func Validate(cfg *types.SLAConfig) error {
	if cfg == nil {
		return nil
	}
	if cfg.TargetMinutes <= 0 {
		return fmt.Errorf("targetMinutes must be positive")
	}
	if !(cfg.TargetMinutes < cfg.WarningMinutes &&
		cfg.WarningMinutes < cfg.CriticalMinutes &&
		cfg.CriticalMinutes < cfg.BreachMinutes) {
		return fmt.Errorf("thresholds must satisfy target < warning < critical < breach, got %g/%g/%g/%g",
			cfg.TargetMinutes, cfg.WarningMinutes, cfg.CriticalMinutes, cfg.BreachMinutes)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}
	if cfg.ExtensionsAllowed && cfg.ExtensionDurationMinutes <= 0 {
		return fmt.Errorf("extensionDurationMinutes must be positive when extensions are allowed")
	}
	return nil
}

// Evaluate computes the live SLA measurement for a stage. The stage's
// consumed extensions shift every threshold by extensionDurationMinutes each.
func Evaluate(cfg *types.SLAConfig, st types.Stage, now time.Time) types.SLAResult {
	result := types.SLAResult{
		SessionID:      st.SessionID,
		StageID:        st.StageID,
		Status:         types.SLAOnTime,
		ExtensionsUsed: st.ExtensionsUsed,
		EvaluatedAt:    now,
	}
	if cfg == nil || st.StartedAt == nil {
		return result
	}

	elapsed := elapsedMinutes(cfg, *st.StartedAt, now)
	result.ElapsedMinutes = elapsed

	shift := float64(st.ExtensionsUsed) * cfg.ExtensionDurationMinutes
	warning := cfg.WarningMinutes + shift
	critical := cfg.CriticalMinutes + shift
	breach := cfg.BreachMinutes + shift

	switch {
	case elapsed >= breach:
		result.Status = types.SLABreached
	case elapsed >= critical:
		result.Status = types.SLAAtRisk
	case elapsed >= warning:
		result.Status = types.SLAAtRisk
	case st.ExtensionsUsed > 0:
		result.Status = types.SLAExtended
	}

	result.RemainingMinutes = breach - elapsed
	if result.RemainingMinutes < 0 {
		result.RemainingMinutes = 0
	}

	predicted := predictTotal(elapsed, st.Progress, st.ErrorCount)
	completion := st.StartedAt.Add(time.Duration(predicted * float64(time.Minute)))
	result.PredictedCompletion = &completion
	result.BreachProbability = breachProbability(predicted, cfg, shift)
	if result.Status == types.SLABreached {
		result.BreachProbability = 1.0
	}

	return result
}

// predictTotal extrapolates the total stage duration from progress so far,
// inflated by a penalty proportional to the recorded error count.
func predictTotal(elapsed, progress float64, errorCount int) float64 {
	p := progress
	if p < progressEpsilon {
		p = progressEpsilon
	}
	total := elapsed / p * 100
	return total * (1 + errorPenalty*float64(errorCount))
}

// breachProbability maps the predicted total onto a monotone step function
// over the four (extension-shifted) thresholds.
func breachProbability(predicted float64, cfg *types.SLAConfig, shift float64) float64 {
	switch {
	case predicted <= cfg.TargetMinutes+shift:
		return 0.05
	case predicted <= cfg.WarningMinutes+shift:
		return 0.10
	case predicted <= cfg.CriticalMinutes+shift:
		return 0.40
	case predicted <= cfg.BreachMinutes+shift:
		return 0.80
	default:
		return 0.95
	}
}

// ApplyExtension consumes one SLA extension on the stage, idempotent per
// extension ID. It returns the updated stage and whether the stage changed.
func ApplyExtension(cfg *types.SLAConfig, st types.Stage, extensionID string) (types.Stage, bool, error) {
	if cfg == nil || !cfg.ExtensionsAllowed {
		return st, false, ErrExtensionsNotAllowed
	}
	for _, id := range st.ExtensionIDs {
		if id == extensionID {
			return st, false, nil // already consumed
		}
	}
	if st.ExtensionsUsed >= cfg.MaxExtensions {
		return st, false, ErrExtensionsExhausted
	}
	st.ExtensionsUsed++
	st.ExtensionIDs = append(st.ExtensionIDs, extensionID)
	return st, true, nil
}
