package value

import (
	"bytes"
	"fmt"
	"math"
)

// Equal reports structural equality of two normalized values. int64 and
// float64 compare numerically; containers compare element by element.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, present := y[k]
			if !present || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports whether every key of sub is present in m with an equal
// value. A nil sub is contained in anything.
func Contains(m, sub map[string]any) bool {
	for k, sv := range sub {
		mv, ok := m[k]
		if !ok || !Equal(mv, sv) {
			return false
		}
	}
	return true
}

// ToInt coerces a numeric value to int64. Floats must be integral.
// Non-numeric values are rejected.
func ToInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("%v overflows int64", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("%T is not numeric", v)
}

// ToBool returns the bool held by v.
func ToBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%T is not a bool", v)
	}
	return b, nil
}

// ToStrings returns the elements of an array value that must all be strings.
func ToStrings(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%T is not an array", v)
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not a string", i, e)
		}
		out[i] = s
	}
	return out, nil
}

// FromStrings converts a string slice into an array value.
func FromStrings(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
