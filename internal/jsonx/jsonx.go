// Package jsonx reads loosely typed provider payloads decoded into map[string]any.
//
// OCR and vision providers return the same logical field under different keys
// and with different JSON types (numbers as strings, ints as floats). These
// helpers coerce values with spf13/cast and never panic.
package jsonx

import (
	"strings"

	"github.com/spf13/cast"
)

// Float coerces v to a float64. Nil, empty strings and unparseable values fail.
func Float(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return 0, false
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int coerces v to an int.
func Int(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		v = s
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// PositiveInt returns v as an int when it coerces to a value greater than zero.
func PositiveInt(v any) (int, bool) {
	n, ok := Int(v)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

// String returns the trimmed string form of v. Nil yields "".
func String(v any) string {
	if v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// Map returns v as a map[string]any, or nil.
func Map(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case nil, string:
		return nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		return nil
	}
	return m
}

// Slice returns v as a []any, or nil.
func Slice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case nil:
		return nil
	}
	s, err := cast.ToSliceE(v)
	if err != nil {
		return nil
	}
	return s
}

// FirstString returns the first non-empty trimmed string value among keys.
// Only actual string values count; numbers are not stringified.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// Truthy mirrors the loose boolean checks providers rely on.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	f, ok := Float(v)
	return ok && f != 0
}

// Clone returns a shallow copy of m.
func Clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
