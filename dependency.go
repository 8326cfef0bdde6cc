package fieldform

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Evaluate decides whether a single dependency is satisfied by the current
// form values. It is pure: no state, no side effects, safe to call on every
// keystroke.
func Evaluate(dep FieldDependency, values map[string]any) bool {
	fieldValue := LookupPath(values, dep.Field)

	switch dep.Operator {
	case OpEquals:
		return looseEqual(fieldValue, dep.Value)
	case OpNotEquals:
		return !looseEqual(fieldValue, dep.Value)
	case OpContains:
		return contains(fieldValue, dep.Value)
	case OpGreaterThan:
		a, b := toNumber(fieldValue), toNumber(dep.Value)
		return a > b // NaN comparisons are false
	case OpLessThan:
		a, b := toNumber(fieldValue), toNumber(dep.Value)
		return a < b
	default:
		return false
	}
}

// EvaluateAll combines a dependency list with AND semantics. An empty list
// is vacuously true: elements with no dependencies are always visible.
func EvaluateAll(deps []FieldDependency, values map[string]any) bool {
	for _, dep := range deps {
		if !Evaluate(dep, values) {
			return false
		}
	}
	return true
}

// EvaluateAnyGroup evaluates OR over AND-groups. An empty group list is
// vacuously true.
func EvaluateAnyGroup(groups []DependencyGroup, values map[string]any) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if EvaluateAll(g.Dependencies, values) {
			return true
		}
	}
	return false
}

// LookupPath resolves a dotted path ("address.ward") through nested
// map[string]any values. A missing segment resolves to nil.
func LookupPath(values map[string]any, path string) any {
	if path == "" {
		return nil
	}
	segments := strings.Split(path, ".")
	var current any = values
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

// looseEqual compares scalars the way form values arrive from JSON: numeric
// kinds compare by value, everything else by strict equality.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	na, aIsNum := asNumber(a)
	nb, bIsNum := asNumber(b)
	if aIsNum && bIsNum {
		return na == nb
	}
	if aIsNum != bIsNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// contains checks array membership when the resolved value is a slice, else
// substring containment after string coercion.
func contains(haystack, needle any) bool {
	if haystack == nil {
		return false
	}
	rv := reflect.ValueOf(haystack)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		for i := 0; i < rv.Len(); i++ {
			if looseEqual(rv.Index(i).Interface(), needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(coerceString(haystack), coerceString(needle))
}

// asNumber reports whether v holds a numeric value, returning it as float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// toNumber coerces v to a float64 for ordering comparisons. Strings parse as
// decimal; anything non-numeric coerces to NaN so the comparison fails.
func toNumber(v any) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return math.NaN()
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
