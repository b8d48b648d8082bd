package rbac

import (
	"reflect"
)

// evaluateConditions reports whether every permission condition holds
// against the evaluation context. A permission with no conditions always
// matches. Conditions support operator maps {"eq": v}, {"in": [...]},
// {"gt": n}, {"lt": n}; any other value is shorthand for plain equality.
func evaluateConditions(conditions map[string]any, evalCtx map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}

	for key, expected := range conditions {
		actual, ok := evalCtx[key]
		if !ok {
			return false
		}
		if !matchCondition(expected, actual) {
			return false
		}
	}
	return true
}

func matchCondition(expected, actual any) bool {
	ops, isOpMap := expected.(map[string]any)
	if !isOpMap {
		return valuesEqual(expected, actual)
	}

	for op, operand := range ops {
		switch op {
		case "eq":
			if !valuesEqual(operand, actual) {
				return false
			}
		case "in":
			if !valueIn(operand, actual) {
				return false
			}
		case "gt":
			an, aok := toFloat(actual)
			on, ook := toFloat(operand)
			if !aok || !ook || !(an > on) {
				return false
			}
		case "lt":
			an, aok := toFloat(actual)
			on, ook := toFloat(operand)
			if !aok || !ook || !(an < on) {
				return false
			}
		default:
			// Unknown operator never matches.
			return false
		}
	}
	return true
}

// valuesEqual compares with numeric coercion so 3 and 3.0 are equal even
// when one side came from JSON decoding.
func valuesEqual(a, b any) bool {
	if an, aok := toFloat(a); aok {
		if bn, bok := toFloat(b); bok {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// valueIn reports whether actual is a member of the operand slice.
func valueIn(operand, actual any) bool {
	rv := reflect.ValueOf(operand)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(rv.Index(i).Interface(), actual) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
