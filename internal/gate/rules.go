package gate

import (
	"fmt"
	"reflect"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

// checkRules evaluates the closed set of custom rule kinds against the
// payload. A rule with severity "critical" contributes to criticalIssues on
// failure; anything else becomes a warning. Unknown kinds pass with a warning
// so misconfigured gates stay visible.
func checkRules(rules []types.QualityRule, payload map[string]interface{}) (passed int, critical, warnings []string) {
	for _, rule := range rules {
		ok, reason := evalRule(rule, payload)
		if ok {
			passed++
			if reason != "" {
				warnings = append(warnings, reason)
			}
			continue
		}
		if rule.Severity == "critical" {
			critical = append(critical, reason)
		} else {
			warnings = append(warnings, reason)
		}
	}
	return passed, critical, warnings
}

func evalRule(rule types.QualityRule, payload map[string]interface{}) (bool, string) {
	switch rule.Kind {
	case types.RuleMinValue:
		return evalMinValue(rule, payload)
	case types.RuleMaxValue:
		return evalMaxValue(rule, payload)
	case types.RuleRequiredBoolean:
		return evalRequiredBoolean(rule, payload)
	case types.RuleNonEmpty:
		return evalNonEmpty(rule, payload)
	case types.RuleEquals:
		return evalEquals(rule, payload)
	default:
		return true, fmt.Sprintf("unknown rule kind %q on %s: skipped", rule.Kind, rule.Field)
	}
}

func evalMinValue(rule types.QualityRule, payload map[string]interface{}) (bool, string) {
	want, ok := toFloat64(rule.Value)
	if !ok {
		return false, fmt.Sprintf("%s: minValue rule has non-numeric bound", rule.Field)
	}
	got, ok := findMetric(payload, rule.Field)
	if !ok {
		return false, fmt.Sprintf("%s: missing", rule.Field)
	}
	if got < want {
		return false, fmt.Sprintf("%s: %s < %s", rule.Field, trimFloat(got), trimFloat(want))
	}
	return true, ""
}

func evalMaxValue(rule types.QualityRule, payload map[string]interface{}) (bool, string) {
	want, ok := toFloat64(rule.Value)
	if !ok {
		return false, fmt.Sprintf("%s: maxValue rule has non-numeric bound", rule.Field)
	}
	got, ok := findMetric(payload, rule.Field)
	if !ok {
		return false, fmt.Sprintf("%s: missing", rule.Field)
	}
	if got > want {
		return false, fmt.Sprintf("%s: %s > %s", rule.Field, trimFloat(got), trimFloat(want))
	}
	return true, ""
}

func evalRequiredBoolean(rule types.QualityRule, payload map[string]interface{}) (bool, string) {
	v, ok := resolvePath(payload, rule.Field)
	if !ok {
		return false, fmt.Sprintf("%s: missing", rule.Field)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Sprintf("%s: not a boolean", rule.Field)
	}
	if !b {
		return false, fmt.Sprintf("%s: false", rule.Field)
	}
	return true, ""
}

func evalNonEmpty(rule types.QualityRule, payload map[string]interface{}) (bool, string) {
	v, ok := resolvePath(payload, rule.Field)
	if !ok || isEmpty(v) {
		return false, fmt.Sprintf("%s: empty", rule.Field)
	}
	return true, ""
}

func evalEquals(rule types.QualityRule, payload map[string]interface{}) (bool, string) {
	v, ok := resolvePath(payload, rule.Field)
	if !ok {
		return false, fmt.Sprintf("%s: missing", rule.Field)
	}
	// Numeric comparison tolerates int/float representation differences.
	if wantF, wok := toFloat64(rule.Value); wok {
		if gotF, gok := toFloat64(v); gok {
			if gotF == wantF {
				return true, ""
			}
			return false, fmt.Sprintf("%s: %s != %s", rule.Field, trimFloat(gotF), trimFloat(wantF))
		}
	}
	if reflect.DeepEqual(v, rule.Value) {
		return true, ""
	}
	return false, fmt.Sprintf("%s: %v != %v", rule.Field, v, rule.Value)
}
