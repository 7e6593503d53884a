package escalation

import (
	"fmt"
	"strings"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// matches checks a rule's trigger conditions against the signal set. All
// configured conditions must hold; stage-scoped conditions must hold together
// for at least one stage. Returns a human-readable trigger reason and the
// matched stage ID (empty for rules with no stage-scoped conditions).
func (e *Engine) matches(rule types.EscalationRule, sig types.SignalSet) (string, string, bool) {
	t := rule.Trigger

	var reasons []string

	// Circuit condition is global, not stage-scoped.
	if len(t.CircuitStateIn) > 0 {
		matched := false
		for _, cs := range sig.CircuitStates {
			if containsCircuit(t.CircuitStateIn, cs.State) {
				matched = true
				reasons = append(reasons, fmt.Sprintf("circuit %s is %s", cs.ServiceName, cs.State))
				break
			}
		}
		if !matched {
			return "", "", false
		}
	}

	stageScoped := t.StageID != "" || len(t.SLAStatusIn) > 0 || len(t.GateStatusIn) > 0 ||
		t.StageCriticality != "" || t.MinStageErrors > 0
	if !stageScoped {
		if len(reasons) == 0 {
			return "", "", false // a rule with no conditions never fires
		}
		return strings.Join(reasons, "; "), "", true
	}

	for _, stageID := range e.candidateStages(t, sig) {
		if reason, ok := e.stageMatches(t, sig, stageID); ok {
			reasons = append(reasons, reason)
			return strings.Join(reasons, "; "), stageID, true
		}
	}
	return "", "", false
}

// candidateStages returns the stage IDs the stage-scoped conditions should be
// tested against.
func (e *Engine) candidateStages(t types.TriggerConditions, sig types.SignalSet) []string {
	if t.StageID != "" {
		return []string{t.StageID}
	}
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, r := range sig.SLAResults {
		add(r.StageID)
	}
	for _, r := range sig.QualityResults {
		add(r.StageID)
	}
	for id := range sig.StageErrors {
		add(id)
	}
	return out
}

// stageMatches tests all stage-scoped conditions against one stage.
func (e *Engine) stageMatches(t types.TriggerConditions, sig types.SignalSet, stageID string) (string, bool) {
	var parts []string

	if len(t.SLAStatusIn) > 0 {
		r, ok := latestSLA(sig.SLAResults, stageID)
		if !ok || !containsSLA(t.SLAStatusIn, r.Status) {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("stage %s sla %s (%.1fm elapsed)", stageID, r.Status, r.ElapsedMinutes))
	}

	if len(t.GateStatusIn) > 0 {
		r, ok := latestGate(sig.QualityResults, stageID)
		if !ok || !containsGate(t.GateStatusIn, r.Status) {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("stage %s gate %s (score %.0f)", stageID, r.Status, r.Score))
	}

	if t.StageCriticality != "" && e.criticality[stageID] != t.StageCriticality {
		return "", false
	}

	if t.MinStageErrors > 0 {
		if sig.StageErrors[stageID] < t.MinStageErrors {
			return "", false
		}
		parts = append(parts, fmt.Sprintf("stage %s has %d errors", stageID, sig.StageErrors[stageID]))
	}

	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("stage %s matched", stageID))
	}
	return strings.Join(parts, "; "), true
}

// latestSLA returns the most recent SLA result for a stage (results carry at
// most one snapshot per stage).
func latestSLA(results []types.SLAResult, stageID string) (types.SLAResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].StageID == stageID {
			return results[i], true
		}
	}
	return types.SLAResult{}, false
}

// latestGate returns the most recent gate evaluation for a stage.
func latestGate(results []types.QualityGateResult, stageID string) (types.QualityGateResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].StageID == stageID {
			return results[i], true
		}
	}
	return types.QualityGateResult{}, false
}

func containsSLA(list []types.SLAStatus, s types.SLAStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsGate(list []types.GateStatus, s types.GateStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsCircuit(list []types.CircuitState, s types.CircuitState) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
