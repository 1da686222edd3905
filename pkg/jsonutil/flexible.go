package jsonutil

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// LLMs return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number
	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// CoerceString converts an attribute value decoded from LLM JSON into a
// string. Numbers and booleans are formatted; nil and unknown shapes return "".
func CoerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// CoerceStringSlice converts an attribute value into []string, accepting both
// a JSON array of mixed scalars and a single scalar.
func CoerceStringSlice(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := CoerceString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := CoerceString(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

// CoerceBool converts an attribute value into a bool. LLMs return "true",
// "yes" and 1 interchangeably with real booleans.
func CoerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true" || val == "yes" || val == "1"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return false
	}
}

// CoerceFloat converts an attribute value into a float64, returning 0 when
// the value is absent or not numeric-shaped.
func CoerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		var f float64
		if _, err := fmt.Sscanf(val, "%g", &f); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

// GetString reads attrs[key] as a string through CoerceString.
func GetString(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	return CoerceString(attrs[key])
}

// GetStringSlice reads attrs[key] as a string slice through CoerceStringSlice.
func GetStringSlice(attrs map[string]any, key string) []string {
	if attrs == nil {
		return nil
	}
	return CoerceStringSlice(attrs[key])
}

// GetMap reads attrs[key] as a nested attribute bag, or nil.
func GetMap(attrs map[string]any, key string) map[string]any {
	if attrs == nil {
		return nil
	}
	if m, ok := attrs[key].(map[string]any); ok {
		return m
	}
	return nil
}

// MergeAttributes returns base overlaid with overlay (shallow). Neither input
// is mutated; a nil base yields a copy of overlay.
func MergeAttributes(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
