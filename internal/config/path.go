package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a node of a raw configuration tree. Elements are string
// keys (objects) or int indices (arrays).
type Path []any

// Append returns a new path with elem appended. The receiver is not modified.
func (p Path) Append(elem any) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, elem)
}

// Equal reports whether two paths have the same elements.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the path as dot-separated keys with bracketed indices,
// e.g. "jkl.nest.meow[1].a".
func (p Path) String() string {
	var b strings.Builder
	for _, elem := range p {
		switch v := elem.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// ParsePath parses the textual form produced by Path.String.
func ParsePath(s string) (Path, error) {
	var p Path
	if s == "" {
		return p, nil
	}
	for _, part := range strings.Split(s, ".") {
		key := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			key, rest = part[:i], part[i:]
		}
		if key == "" && rest == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrKeyNotFound, s)
		}
		if key != "" {
			p = append(p, key)
		}
		for rest != "" {
			end := strings.IndexByte(rest, ']')
			if rest[0] != '[' || end < 0 {
				return nil, fmt.Errorf("%w: malformed index in %q", ErrKeyNotFound, s)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("%w: malformed index in %q", ErrKeyNotFound, s)
			}
			p = append(p, idx)
			rest = rest[end+1:]
		}
	}
	return p, nil
}

// lookupPath walks data along path. On failure the returned *Error locates
// the element that could not be resolved.
func lookupPath(data any, path Path) (any, error) {
	cur := data
	for i, elem := range path {
		next, err := step(cur, elem)
		if err != nil {
			return nil, &Error{Kind: kindOf(err), Path: path[:i], Key: elem, Err: err}
		}
		cur = next
	}
	return cur, nil
}

// step dereferences one path element.
func step(cur any, elem any) (any, error) {
	switch node := cur.(type) {
	case map[string]any:
		key, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("%w: index %v used on an object", ErrTypeMismatch, elem)
		}
		v, ok := node[key]
		if !ok {
			return nil, ErrKeyNotFound
		}
		return v, nil
	case []any:
		idx, ok := elem.(int)
		if !ok {
			return nil, fmt.Errorf("%w: key %v used on an array", ErrTypeMismatch, elem)
		}
		if idx < 0 || idx >= len(node) {
			return nil, ErrKeyNotFound
		}
		return node[idx], nil
	default:
		return nil, fmt.Errorf("%w: cannot descend into %T", ErrTypeMismatch, cur)
	}
}

// assignPath stores value at path inside data. Missing intermediate keys
// are created as objects when makePath is set; arrays are never extended.
// Nothing is created unless the assignment succeeds.
func assignPath(data map[string]any, path Path, value any, makePath bool) error {
	if len(path) == 0 {
		return &Error{Kind: ErrKeyNotFound, Err: fmt.Errorf("empty path")}
	}
	var cur any = data
	for i, elem := range path[:len(path)-1] {
		next, err := step(cur, elem)
		if err == nil {
			cur = next
			continue
		}
		obj, isObj := cur.(map[string]any)
		if !makePath || !isObj || kindOf(err) != ErrKeyNotFound {
			return &Error{Kind: kindOf(err), Path: path[:i], Key: elem, Err: err}
		}
		return createPath(obj, path, i, value)
	}

	last := path[len(path)-1]
	switch node := cur.(type) {
	case map[string]any:
		key, ok := last.(string)
		if !ok {
			return &Error{Kind: ErrTypeMismatch, Path: path[:len(path)-1], Key: last}
		}
		node[key] = value
	case []any:
		idx, ok := last.(int)
		if !ok {
			return &Error{Kind: ErrTypeMismatch, Path: path[:len(path)-1], Key: last}
		}
		if idx < 0 || idx >= len(node) {
			return &Error{Kind: ErrKeyNotFound, Path: path[:len(path)-1], Key: last}
		}
		node[idx] = value
	default:
		return &Error{Kind: ErrTypeMismatch, Path: path[:len(path)-1], Key: last,
			Err: fmt.Errorf("cannot assign into %T", cur)}
	}
	return nil
}

// createPath creates the objects for path[from:] below obj and stores
// value in the innermost one. Every remaining element must be a key.
func createPath(obj map[string]any, path Path, from int, value any) error {
	keys := make([]string, 0, len(path)-from)
	for i := from; i < len(path); i++ {
		key, ok := path[i].(string)
		if !ok {
			return &Error{Kind: ErrTypeMismatch, Path: path[:i], Key: path[i],
				Err: fmt.Errorf("index %v used on a created object", path[i])}
		}
		keys = append(keys, key)
	}

	for _, key := range keys[:len(keys)-1] {
		log.WithField("key", key).Debug("path key not found, creating object")
		created := make(map[string]any)
		obj[key] = created
		obj = created
	}
	obj[keys[len(keys)-1]] = value
	return nil
}

// kindOf maps an arbitrary error to the sentinel kind it matches.
func kindOf(err error) error {
	for _, kind := range []error{ErrKeyNotFound, ErrNameInvalid, ErrReadOnly, ErrRange, ErrTypeMismatch, ErrInvalidValue, ErrConversion} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrConversion
}
