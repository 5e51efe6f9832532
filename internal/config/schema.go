package config

import "fmt"

// Schema declares the fields of a model section, in declaration order.
//
// Schemas are immutable once built and are shared by every model bound to
// them.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
	strict bool
}

// NewSchema builds a strict schema from fields. It panics if a field has
// an empty or reserved name, or if two fields share a name.
func NewSchema(name string, fields ...Field) *Schema {
	s := &Schema{
		name:   name,
		index:  make(map[string]int, len(fields)),
		strict: true,
	}
	s.add(fields, false)
	return s
}

// Extend returns a new schema with the fields of s followed by fields. A
// field named like an inherited one replaces it in place.
func (s *Schema) Extend(name string, fields ...Field) *Schema {
	out := &Schema{
		name:   name,
		fields: append([]Field(nil), s.fields...),
		index:  make(map[string]int, len(s.fields)+len(fields)),
		strict: s.strict,
	}
	for k, v := range s.index {
		out.index[k] = v
	}
	out.add(fields, true)
	return out
}

// Lenient returns a copy of s that allows undeclared keys. Undeclared keys
// are read and written as primitives.
func (s *Schema) Lenient() *Schema {
	out := s.Extend(s.name)
	out.strict = false
	return out
}

func (s *Schema) add(fields []Field, override bool) {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		name := f.Spec().Name
		if name == "" {
			panic(fmt.Sprintf("config: schema %s: field without a name", s.name))
		}
		if IsReservedKey(name) {
			panic(fmt.Sprintf("config: schema %s: reserved field name %q", s.name, name))
		}
		if seen[name] {
			panic(fmt.Sprintf("config: schema %s: duplicate field %q", s.name, name))
		}
		seen[name] = true

		if i, ok := s.index[name]; ok {
			if !override {
				panic(fmt.Sprintf("config: schema %s: duplicate field %q", s.name, name))
			}
			s.fields[i] = f
			continue
		}
		s.index[name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Strict reports whether only declared keys may be accessed.
func (s *Schema) Strict() bool {
	return s.strict
}

// Field returns the field declared for key.
func (s *Schema) Field(key string) (Field, bool) {
	i, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.fields[i], true
}

// Fields returns the declared fields in order.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Keys returns the declared field names in order.
func (s *Schema) Keys() []string {
	keys := make([]string, len(s.fields))
	for i, f := range s.fields {
		keys[i] = f.Spec().Name
	}
	return keys
}

// with returns a copy of s with f declared, replacing a field of the same
// name. Root uses it for registration.
func (s *Schema) with(f Field) *Schema {
	return s.Extend(s.name, f)
}
