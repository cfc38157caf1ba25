package tool

import (
	"fmt"
)

// MissingParameterError reports a required tool input that could not be
// resolved from invocation constants or state. It indicates either a
// manifest/state mismatch or a premature tool selection by the oracle.
type MissingParameterError struct {
	Tool  string
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("tool %s: required parameter %q not found in constants or state", e.Tool, e.Param)
}

// StateReader is the binder's view of pipeline state: invocation-time
// constants and current variables.
type StateReader interface {
	Constant(name string) (any, bool)
	Get(key string) (any, bool)
}

// Bind derives a tool's call arguments from current state plus manifest
// rules. Per declared input parameter, in precedence order:
//
//  1. an invocation-time constant of the same name wins; state never
//     overrides it
//  2. else a state key of the same name
//  3. a filter spec on a list-typed value retains only matching elements,
//     order preserved, source untouched
//  4. required and unresolved fails with MissingParameterError
//  5. optional and unresolved takes the manifest default
func Bind(m Manifest, st StateReader) (map[string]any, error) {
	args := make(map[string]any, len(m.InputParams))

	for _, p := range m.InputParams {
		value, resolved := st.Constant(p.Name)
		if !resolved {
			value, resolved = st.Get(p.Name)
			// A declared-but-never-written state key resolves to nil,
			// which is indistinguishable from absent for binding.
			if resolved && value == nil {
				resolved = false
			}
		}

		if resolved {
			if p.Filter != nil {
				value = applyFilter(value, *p.Filter)
			}
			args[p.Name] = value
			continue
		}

		if p.Required {
			return nil, &MissingParameterError{Tool: m.Name, Param: p.Name}
		}
		args[p.Name] = p.Default
	}

	return args, nil
}

// applyFilter keeps only list elements whose field equals the filter value.
// Non-list values pass through unchanged. The returned slice is a fresh
// allocation; the source is never mutated.
func applyFilter(value any, spec FilterSpec) any {
	items, ok := toItemList(value)
	if !ok {
		return value
	}

	kept := make([]map[string]any, 0, len(items))
	for _, item := range items {
		field, present := item[spec.Field]
		if present && valuesEqual(field, spec.Value) {
			kept = append(kept, item)
		}
	}
	return kept
}

// toItemList normalizes the two list shapes tools produce.
func toItemList(value any) ([]map[string]any, bool) {
	switch v := value.(type) {
	case []map[string]any:
		return v, true
	case []any:
		items := make([]map[string]any, 0, len(v))
		for _, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, false
			}
			items = append(items, m)
		}
		return items, true
	default:
		return nil, false
	}
}

// valuesEqual compares a field value against a filter value, tolerating the
// numeric widening JSON decoding introduces.
func valuesEqual(a, b any) bool {
	if aStr, ok := a.(string); ok {
		if bStr, ok := b.(string); ok {
			return aStr == bStr
		}
	}
	if aBool, ok := a.(bool); ok {
		if bBool, ok := b.(bool); ok {
			return aBool == bBool
		}
	}

	aFloat, aOK := toFloat64(a)
	bFloat, bOK := toFloat64(b)
	if aOK && bOK {
		return aFloat == bFloat
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat64(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
