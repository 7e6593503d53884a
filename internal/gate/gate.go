// Package gate implements the quality gate engine: the per-stage rule
// evaluator that decides pass/fail/manual-review/bypass from required fields,
// numeric thresholds, and custom rules.
package gate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// passScore is the minimum overall score for a gate to pass outright.
const passScore = 70.0

// Bypass carries an authorized override supplied with a stage outcome. A
// valid bypass is the only way to force progression past a failed mandatory
// gate.
type Bypass struct {
	AuthLevel int
	Reason    string
}

// Engine evaluates quality gates against stage output payloads.
type Engine struct {
	nowFn func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the engine clock (useful for testing).
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = fn }
}

// New creates a gate engine.
func New(opts ...Option) *Engine {
	e := &Engine{nowFn: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate checks a stage's output payload against its gate configuration.
// A nil gate always passes. Required-field and threshold failures are
// critical; rule behavior depends on the rule's severity. Unknown rule kinds
// pass (fail-open at rule level only, never at required-field level).
func (e *Engine) Evaluate(sessionID, stageID string, g *types.QualityGate, payload map[string]interface{}, bypass *Bypass) types.QualityGateResult {
	now := e.nowFn()
	result := types.QualityGateResult{
		SessionID:   sessionID,
		StageID:     stageID,
		EvaluatedAt: now,
	}

	if g == nil {
		result.Status = types.GatePassed
		result.Passed = true
		result.Score = 100
		return result
	}

	fieldsPassed, fieldIssues := checkRequiredFields(g.RequiredFields, payload)
	thresholdsPassed, thresholdIssues := checkThresholds(g.Thresholds, payload)
	rulesPassed, ruleCritical, ruleWarnings := checkRules(g.Rules, payload)

	result.CriticalIssues = append(result.CriticalIssues, fieldIssues...)
	result.CriticalIssues = append(result.CriticalIssues, thresholdIssues...)
	result.CriticalIssues = append(result.CriticalIssues, ruleCritical...)
	result.Warnings = ruleWarnings

	// Overall score is the unweighted average of the three pass percentages.
	// Sections with nothing configured count as fully passed.
	result.Score = (pct(fieldsPassed, len(g.RequiredFields)) +
		pct(thresholdsPassed, len(g.Thresholds)) +
		pct(rulesPassed, len(g.Rules))) / 3

	noMissing := len(fieldIssues) == 0
	noThresholdFail := len(thresholdIssues) == 0
	result.Passed = noMissing && noThresholdFail && len(ruleCritical) == 0 && result.Score >= passScore

	switch {
	case result.Passed:
		result.Status = types.GatePassed
	case result.Score > 0 && result.Score < passScore && noMissing && noThresholdFail && !mandatoryHardBlock(g):
		result.Status = types.GateManualReview
	default:
		result.Status = types.GateFailed
	}

	// An authorized bypass forcibly passes the gate, annotated with the reason.
	if result.Status != types.GatePassed && g.Bypassable && bypass != nil && bypass.AuthLevel >= g.BypassAuthLevel {
		result.Status = types.GateBypass
		result.Passed = true
		result.BypassReason = bypass.Reason
		if result.BypassReason == "" {
			result.BypassReason = fmt.Sprintf("bypass authorized at level %d", bypass.AuthLevel)
		}
	}

	return result
}

// mandatoryHardBlock reports whether a gate blocks instead of allowing
// manual review for sub-threshold scores.
func mandatoryHardBlock(g *types.QualityGate) bool {
	return g.Mandatory && g.FailureAction == types.FailureBlock
}

func pct(passed, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(passed) / float64(total) * 100
}

// checkRequiredFields verifies every path resolves to a non-null, non-empty
// value. Paths support dotted nesting ("identity.email").
func checkRequiredFields(fields []string, payload map[string]interface{}) (passed int, issues []string) {
	for _, field := range fields {
		v, ok := resolvePath(payload, field)
		if !ok || isEmpty(v) {
			issues = append(issues, field)
			continue
		}
		passed++
	}
	return passed, issues
}

// checkThresholds compares each named metric against its minimum with >=.
// Metrics are looked up at the top level first, then one level down.
func checkThresholds(thresholds map[string]float64, payload map[string]interface{}) (passed int, issues []string) {
	for _, name := range sortedKeys(thresholds) {
		min := thresholds[name]
		v, ok := findMetric(payload, name)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: missing", name))
			continue
		}
		if v < min {
			issues = append(issues, fmt.Sprintf("%s: %s < %s", name, trimFloat(v), trimFloat(min)))
			continue
		}
		passed++
	}
	return passed, issues
}

// resolvePath walks a dotted path through nested maps.
func resolvePath(payload map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = payload
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// findMetric looks a metric up at the top level, then searches one level of
// nested maps.
func findMetric(payload map[string]interface{}, name string) (float64, bool) {
	if v, ok := payload[name]; ok {
		return toFloat64(v)
	}
	for _, v := range payload {
		if nested, ok := v.(map[string]interface{}); ok {
			if nv, ok := nested[name]; ok {
				return toFloat64(nv)
			}
		}
	}
	return 0, false
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		// A required boolean must actually be true; a false flag means the
		// worker did not produce the artifact the field attests to.
		return !t
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// trimFloat renders a float without a trailing ".00" for whole numbers.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
