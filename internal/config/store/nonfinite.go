package store

import (
	"bytes"
	"math"
	"strings"

	"github.com/google/uuid"
)

// JSON has no literals for infinities and NaN. Documents use the Infinity,
// -Infinity and NaN tokens instead, which encoding/json neither writes nor
// reads. Both directions swap the tokens for strings tagged with a random
// marker that cannot collide with document content.

var nonFiniteTokens = []string{"-Infinity", "Infinity", "NaN"}

func nonFiniteToken(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return "Infinity"
	}
}

func tokenValue(tok string) float64 {
	switch tok {
	case "NaN":
		return math.NaN()
	case "-Infinity":
		return math.Inf(-1)
	default:
		return math.Inf(1)
	}
}

func isNonFinite(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

func hasNonFinite(v any) bool {
	switch val := v.(type) {
	case float64:
		return isNonFinite(val)
	case []any:
		for _, item := range val {
			if hasNonFinite(item) {
				return true
			}
		}
	case map[string]any:
		for _, item := range val {
			if hasNonFinite(item) {
				return true
			}
		}
	}
	return false
}

// markNonFinite returns a copy of v with non-finite floats replaced by
// marker strings.
func markNonFinite(v any, marker string) any {
	switch val := v.(type) {
	case float64:
		if isNonFinite(val) {
			return marker + nonFiniteToken(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = markNonFinite(item, marker)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			out[key] = markNonFinite(item, marker)
		}
		return out
	default:
		return v
	}
}

// unmarkNonFinite turns marker strings back into floats, in place.
func unmarkNonFinite(v any, marker string) any {
	switch val := v.(type) {
	case string:
		if tok, ok := strings.CutPrefix(val, marker); ok {
			return tokenValue(tok)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = unmarkNonFinite(item, marker)
		}
		return val
	case map[string]any:
		for key, item := range val {
			val[key] = unmarkNonFinite(item, marker)
		}
		return val
	default:
		return v
	}
}

// unquoteNonFinite rewrites the quoted marker strings of an encoded
// document as bare tokens.
func unquoteNonFinite(doc []byte, marker string) []byte {
	for _, tok := range nonFiniteTokens {
		doc = bytes.ReplaceAll(doc, []byte(`"`+marker+tok+`"`), []byte(tok))
	}
	return doc
}

// quoteNonFinite rewrites bare non-finite tokens outside of strings as
// marker strings. It returns an empty marker when the document has none.
func quoteNonFinite(doc []byte) ([]byte, string) {
	var (
		out      []byte
		marker   string
		inString bool
		escaped  bool
		last     int
	)
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if c != '-' && c != 'I' && c != 'N' {
			continue
		}
		for _, tok := range nonFiniteTokens {
			if !bytes.HasPrefix(doc[i:], []byte(tok)) {
				continue
			}
			if marker == "" {
				marker = uuid.NewString() + ":"
				out = make([]byte, 0, len(doc)+64)
			}
			out = append(out, doc[last:i]...)
			out = append(out, '"')
			out = append(out, marker...)
			out = append(out, tok...)
			out = append(out, '"')
			i += len(tok) - 1
			last = i + 1
			break
		}
	}
	if marker == "" {
		return doc, ""
	}
	return append(out, doc[last:]...), marker
}
