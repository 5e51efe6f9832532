package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// IsPrimitive reports whether v belongs to the primitive set, checking
// containers recursively.
func IsPrimitive(v any) bool {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return true
	case []any:
		for _, item := range val {
			if !IsPrimitive(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range val {
			if !IsPrimitive(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Normalize converts a decoded document into the primitive set. Integer
// kinds become int64, floats become float64, json.Number becomes int64 when
// integral, date and time values become RFC 3339 text and string-keyable
// maps become map[string]any.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint:
		return uintToInt(uint64(val))
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return uintToInt(val)
	case float32:
		return float64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return f, nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key)] = n
		}
		return out, nil
	case fmt.Stringer:
		// go-toml local date/time types
		return val.String(), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func uintToInt(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return float64(u), nil
	}
	return int64(u), nil
}

// Clone creates a deep copy of a configuration map.
func Clone(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = CloneValue(val)
	}

	return dst
}

// CloneValue creates a deep copy of any primitive value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		return cloneSlice(val)
	default:
		return v
	}
}

// cloneSlice creates a deep copy of a slice.
func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}

	dst := make([]any, len(src))
	for i, val := range src {
		dst[i] = CloneValue(val)
	}

	return dst
}

// DeepMerge recursively merges src into dst.
// Values in src override values in dst.
// Maps are merged recursively; other types are replaced.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	if src == nil {
		return dst
	}

	for key, srcVal := range src {
		dstVal, exists := dst[key]
		if !exists {
			dst[key] = srcVal
			continue
		}

		// If both are maps, merge recursively
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dstVal.(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = DeepMerge(dstMap, srcMap)
		} else {
			dst[key] = srcVal
		}
	}

	return dst
}
