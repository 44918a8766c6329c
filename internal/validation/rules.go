package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// predicates is the closed set of named accuracy checks. Rule configs
// select one by name; arbitrary expressions are never evaluated.
var predicates = map[string]func(value interface{}, present bool) (bool, string){
	"present": func(v interface{}, present bool) (bool, string) {
		return present && !isEmpty(v), "value present"
	},
	"positive": func(v interface{}, present bool) (bool, string) {
		n, ok := toFloat(v)
		return present && ok && n > 0, "value > 0"
	},
	"non_negative": func(v interface{}, present bool) (bool, string) {
		n, ok := toFloat(v)
		return present && ok && n >= 0, "value >= 0"
	},
	"is_true": func(v interface{}, present bool) (bool, string) {
		b, ok := v.(bool)
		return present && ok && b, "value is true"
	},
	"non_empty_collection": func(v interface{}, present bool) (bool, string) {
		items, ok := toSlice(v)
		return present && ok && len(items) > 0, "at least one entry"
	},
	"zero": func(v interface{}, present bool) (bool, string) {
		n, ok := toFloat(v)
		return present && ok && n == 0, "value == 0"
	},
}

// resolveField follows a dot-path into the aggregated payload
func resolveField(payload map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current interface{} = payload

	for _, part := range parts {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
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

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []map[string]interface{}:
		items := make([]interface{}, len(t))
		for i, m := range t {
			items[i] = m
		}
		return items, true
	default:
		return nil, false
	}
}

func formatValue(v interface{}, present bool) string {
	if !present {
		return "<missing>"
	}
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v", v)
}

// evaluateRule dispatches one rule to its kind-specific evaluator. The
// returned pass flag, observed and expected strings feed the Result.
func evaluateRule(rule Rule, payload map[string]interface{}) (passed bool, observed, expected string, err error) {
	value, present := resolveField(payload, rule.Field)

	switch rule.Kind {
	case KindCompleteness:
		return evaluateCompleteness(rule, value, present)
	case KindAccuracy:
		return evaluateAccuracy(rule, value, present)
	case KindConsistency:
		return evaluateConsistency(rule, value, present, payload)
	case KindFormat:
		return evaluateFormat(rule, value, present)
	case KindBusinessLogic:
		return evaluateBusinessLogic(rule, payload)
	default:
		return false, "", "", fmt.Errorf("unknown rule kind: %s", rule.Kind)
	}
}

func evaluateCompleteness(rule Rule, value interface{}, present bool) (bool, string, string, error) {
	params := rule.Completeness
	if params == nil {
		params = &CompletenessParams{}
	}

	if len(params.RequiredSubFields) == 0 {
		passed := present && !isEmpty(value)
		return passed, formatValue(value, present), "non-empty value", nil
	}

	expected := fmt.Sprintf("every item has %s", strings.Join(params.RequiredSubFields, ", "))

	items, ok := toSlice(value)
	if !present || !ok {
		return false, formatValue(value, present), expected, nil
	}

	incomplete := 0
	for _, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			incomplete++
			continue
		}
		for _, sub := range params.RequiredSubFields {
			if v, found := fields[sub]; !found || isEmpty(v) {
				incomplete++
				break
			}
		}
	}

	observed := fmt.Sprintf("%d of %d items incomplete", incomplete, len(items))
	return incomplete == 0, observed, expected, nil
}

func evaluateAccuracy(rule Rule, value interface{}, present bool) (bool, string, string, error) {
	predicate, ok := predicates[rule.Accuracy.Predicate]
	if !ok {
		return false, "", "", fmt.Errorf("unknown predicate: %s", rule.Accuracy.Predicate)
	}

	passed, expected := predicate(value, present)
	return passed, formatValue(value, present), expected, nil
}

func evaluateConsistency(rule Rule, value interface{}, present bool, payload map[string]interface{}) (bool, string, string, error) {
	params := rule.Consistency

	target, ok := toFloat(value)
	if !present || !ok {
		return false, formatValue(value, present), "numeric value", nil
	}

	tolerance := params.Tolerance

	if len(params.SumOfFields) > 0 {
		sum := 0.0
		for _, field := range params.SumOfFields {
			v, found := resolveField(payload, field)
			n, numeric := toFloat(v)
			if !found || !numeric {
				return false, fmt.Sprintf("%s missing or non-numeric", field), "all constituent fields numeric", nil
			}
			sum += n
		}
		passed := math.Abs(target-sum) <= tolerance
		return passed, fmt.Sprintf("%v", target), fmt.Sprintf("sum of constituents = %v", sum), nil
	}

	other, found := resolveField(payload, params.EqualsField)
	n, numeric := toFloat(other)
	if !found || !numeric {
		return false, fmt.Sprintf("%v", target), fmt.Sprintf("%s missing or non-numeric", params.EqualsField), nil
	}

	passed := math.Abs(target-n) <= tolerance
	return passed, fmt.Sprintf("%v", target), fmt.Sprintf("%v", n), nil
}

func evaluateFormat(rule Rule, value interface{}, present bool) (bool, string, string, error) {
	params := rule.Format
	observed := formatValue(value, present)

	if !present {
		return false, observed, "value present", nil
	}

	if params.Min != nil || params.Max != nil {
		n, ok := toFloat(value)
		if !ok {
			return false, observed, "numeric value", nil
		}
		if params.Min != nil && n < *params.Min {
			return false, observed, fmt.Sprintf("value >= %v", *params.Min), nil
		}
		if params.Max != nil && n > *params.Max {
			return false, observed, fmt.Sprintf("value <= %v", *params.Max), nil
		}
	}

	if params.Pattern != "" {
		s, ok := value.(string)
		if !ok {
			return false, observed, "string value", nil
		}
		re, err := regexp.Compile(params.Pattern)
		if err != nil {
			return false, "", "", fmt.Errorf("invalid format pattern %q: %w", params.Pattern, err)
		}
		if !re.MatchString(s) {
			return false, observed, fmt.Sprintf("match %s", params.Pattern), nil
		}
	}

	if params.MaxLength > 0 {
		s, ok := value.(string)
		if ok && len(s) > params.MaxLength {
			return false, observed, fmt.Sprintf("length <= %d", params.MaxLength), nil
		}
	}

	return true, observed, "conforms to format", nil
}

func evaluateBusinessLogic(rule Rule, payload map[string]interface{}) (bool, string, string, error) {
	params := rule.BusinessLogic

	numValue, numFound := resolveField(payload, params.NumeratorField)
	denValue, denFound := resolveField(payload, params.DenominatorField)

	numerator, numOK := toFloat(numValue)
	denominator, denOK := toFloat(denValue)

	expected := fmt.Sprintf("%s / %s >= %v", params.NumeratorField, params.DenominatorField, params.MinRatio)

	if !numFound || !numOK || !denFound || !denOK {
		return false, "numerator or denominator missing", expected, nil
	}

	if denominator == 0 {
		// Nothing to measure against; vacuously satisfied
		return true, "denominator is zero", expected, nil
	}

	ratio := numerator / denominator
	return ratio >= params.MinRatio, fmt.Sprintf("ratio %.4f", ratio), expected, nil
}
