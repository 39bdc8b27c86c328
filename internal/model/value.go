package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Answers maps composite answer keys to values. Values survive a JSON round trip,
// so lists may arrive as []any and numbers as float64.
type Answers map[string]any

// blankSentinel is what an empty multi-select join produces
const blankSentinel = "/"

// HasRealAnswer reports whether v counts as answered
func HasRealAnswer(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		s := strings.TrimSpace(t)
		return s != "" && s != blankSentinel
	case []string:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case map[string]any:
		for _, inner := range t {
			if HasRealAnswer(inner) {
				return true
			}
		}
		return false
	case Answers:
		return HasRealAnswer(map[string]any(t))
	case map[string]string:
		for _, inner := range t {
			if HasRealAnswer(inner) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// IsEmptyValue reports values that are never persisted
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// Stringify renders a scalar the way a form would submit it
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case Code:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// ToStrings coerces a singleton or a list into a list of strings
func ToStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, Stringify(item))
		}
		return out
	default:
		return []string{Stringify(t)}
	}
}

// ToList coerces v into a list without stringifying its elements
func ToList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{t}
	}
}

// AsMap returns v as a string-keyed map when it is one
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Answers:
		return map[string]any(t), true
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// Contains reports whether list holds s
func Contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// SameSelection compares two selections as sets
func SameSelection(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, s := range a {
		if !Contains(b, s) {
			return false
		}
	}
	return true
}

// Deselected returns the codes of previous that are absent from next
func Deselected(previous, next []string) []string {
	var out []string
	for _, s := range previous {
		if !Contains(next, s) {
			out = append(out, s)
		}
	}
	return out
}
