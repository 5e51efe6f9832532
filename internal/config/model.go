package config

import (
	"errors"
	"reflect"
	"sort"
	"time"

	"github.com/dshills/confmodel/internal/config/notify"
	"github.com/dshills/confmodel/internal/config/store"
)

var errKeyNotAllowed = errors.New("key not allowed")

// ModelField declares a nested section described by Schema.
type ModelField struct {
	Base
	Schema *Schema
}

func (f *ModelField) Kinds() []Kind { return []Kind{KindModel, KindAny} }

// Convert binds raw, which must be an object, to a new unattached Model.
func (f *ModelField) Convert(rt Attributes, raw any) (any, error) {
	return f.newNode(rt, nil, nil, raw)
}

// Serialize returns the live raw map of a *Model, or validates a plain map
// against the schema.
func (f *ModelField) Serialize(rt Attributes, value any) (any, error) {
	return f.serializeWith(staticAttrs(rt), value)
}

func (f *ModelField) schema() *Schema {
	if f.Schema == nil {
		return NewSchema(f.Name).Lenient()
	}
	return f.Schema
}

func (f *ModelField) newNode(rt Attributes, parent Node, key any, raw any) (Node, error) {
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, typeError(f.Name, raw, "object")
	}
	m := newModel(f, f.schema())
	m.attach(f, parent, key)
	m.seed(rt)
	if err := m.bind(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *ModelField) serializeWith(_ func(...Kind) Attributes, value any) (any, error) {
	switch v := value.(type) {
	case *Model:
		return v.raw, nil
	case map[string]any:
		m, err := NewModel(f.schema(), v)
		if err != nil {
			return nil, err
		}
		return m.raw, nil
	default:
		return nil, typeError(f.Name, value, "*config.Model or map[string]any")
	}
}

// Model is a typed view over a raw object, described by a Schema.
//
// Values are converted on first access and cached until the key is written
// or the cache is cleared. Models are not safe for concurrent use.
type Model struct {
	node
	schema *Schema
	raw    map[string]any
	cache  map[string]any
}

func newModel(f Field, schema *Schema) *Model {
	m := &Model{
		schema: schema,
		raw:    make(map[string]any),
		cache:  make(map[string]any),
	}
	m.self = m
	m.field = f
	return m
}

// NewModel builds an unattached model for schema and sets values on it.
func NewModel(schema *Schema, values map[string]any) (*Model, error) {
	m := newModel(&ModelField{Schema: schema}, schema)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.Set(k, values[k]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Schema returns the model's schema.
func (m *Model) Schema() *Schema {
	return m.schema
}

// Raw returns the live raw map.
func (m *Model) Raw() any {
	return m.raw
}

// fieldFor returns the field used for key, or an error for reserved or (on
// strict schemas) undeclared keys.
func (m *Model) fieldFor(key string) (Field, error) {
	if IsReservedKey(key) {
		return nil, m.newError(ErrNameInvalid, key, nil, nil)
	}
	if f, ok := m.schema.Field(key); ok {
		return f, nil
	}
	if m.schema.Strict() {
		return nil, m.newError(ErrKeyNotFound, key, nil, errKeyNotAllowed)
	}
	return &PrimitiveField{Base: Base{Name: key, Required: true}}, nil
}

// FieldFor returns the field used for key. On a lenient schema undeclared
// keys get a primitive field.
func (m *Model) FieldFor(key string) (Field, error) {
	return m.fieldFor(key)
}

// Get returns the converted value for key.
//
// A missing key falls back to a copy of the field's default. Without a
// default, a required field fails with ErrKeyNotFound and an optional one
// returns nil.
func (m *Model) Get(key string) (any, error) {
	f, err := m.fieldFor(key)
	if err != nil {
		return nil, err
	}

	if v, ok := m.cache[key]; ok {
		// Eager conversion may have run before the node was attached
		reattach(v, f, m, key)
		return v, nil
	}

	raw, ok := m.raw[key]
	if ok {
		m.logger().WithField("key", key).Debug("read key from file")
	} else {
		spec := f.Spec()
		if spec.Default == nil {
			if spec.Required {
				return nil, m.newError(ErrKeyNotFound, key, nil, nil)
			}
			return nil, nil
		}
		m.logger().WithField("key", key).Warn("key not found, using default")
		raw = store.CloneValue(spec.Default)
	}

	v, err := convertChild(m, f, key, raw)
	if err != nil {
		return nil, m.newError(ErrConversion, key, raw, err)
	}
	m.cache[key] = v
	return v, nil
}

// Set serializes value into the raw map. The cached value for key is
// dropped, so the next Get converts the new raw value.
func (m *Model) Set(key string, value any) error {
	if m.ReadOnly() {
		return m.newError(ErrReadOnly, key, value, nil)
	}
	f, err := m.fieldFor(key)
	if err != nil {
		return err
	}

	raw, err := serializeChild(m, f, value)
	if err != nil {
		return m.newError(ErrConversion, key, value, err)
	}
	if !store.IsPrimitive(raw) {
		return m.newError(ErrTypeMismatch, key, value, nil)
	}

	m.logger().WithField("key", key).Info("set key")
	old := m.raw[key]
	m.raw[key] = raw
	delete(m.cache, key)
	reattach(value, f, m, key)

	m.changed(m.raw, key, notify.ChangeSet, old, raw)
	return nil
}

// Delete removes key from the raw map. Reads fall back to the default
// afterwards.
func (m *Model) Delete(key string) error {
	if m.ReadOnly() {
		return m.newError(ErrReadOnly, key, nil, nil)
	}
	if _, err := m.fieldFor(key); err != nil {
		return err
	}
	old, ok := m.raw[key]
	if !ok {
		return m.newError(ErrKeyNotFound, key, nil, nil)
	}

	m.logger().WithField("key", key).Info("delete key")
	delete(m.raw, key)
	delete(m.cache, key)

	m.changed(m.raw, key, notify.ChangeDelete, old, nil)
	return nil
}

// Has reports whether key is present in the raw data.
func (m *Model) Has(key string) bool {
	_, ok := m.raw[key]
	return ok
}

// Keys returns the keys present in the raw data, sorted. Undeclared keys
// are included even on strict schemas.
func (m *Model) Keys() []string {
	keys := make([]string, 0, len(m.raw))
	for k := range m.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FieldKeys returns the declared keys in declaration order.
func (m *Model) FieldKeys() []string {
	return m.schema.Keys()
}

// Traverse follows keys through nested models and returns the final value.
func (m *Model) Traverse(keys ...string) (any, error) {
	var cur any = m
	for _, key := range keys {
		model, ok := cur.(*Model)
		if !ok {
			return nil, m.newError(ErrTypeMismatch, key, cur, errors.New("cannot traverse into a non-model value"))
		}
		v, err := model.Get(key)
		if err != nil {
			return nil, err
		}
		cur = v
	}
	return cur, nil
}

// ClearCache drops all converted values. Eager fields are converted again
// right away; if the model itself is eager, every key is.
func (m *Model) ClearCache() error {
	m.cache = make(map[string]any)
	m.logger().Info("cache cleared")
	return m.convertEager()
}

func (m *Model) convertEager() error {
	if m.field != nil && m.field.Spec().Eager {
		m.logger().Info("converting all data")
		for _, key := range m.Keys() {
			if _, err := m.Get(key); err != nil {
				return err
			}
		}
		for _, key := range m.FieldKeys() {
			if _, err := m.Get(key); err != nil {
				return err
			}
		}
		return nil
	}
	for _, f := range m.schema.fields {
		if !f.Spec().Eager {
			continue
		}
		if _, err := m.Get(f.Spec().Name); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether both models hold equal converted values for the
// declared keys (strict schemas) or the raw keys (lenient schemas).
func (m *Model) Equal(other *Model) bool {
	if other == nil {
		return false
	}
	keys := m.FieldKeys()
	if !m.schema.Strict() {
		keys = m.Keys()
	}
	for _, key := range keys {
		a, err := m.Get(key)
		if err != nil {
			return false
		}
		b, err := other.Get(key)
		if err != nil {
			return false
		}
		if !valuesEqual(a, b) {
			return false
		}
	}
	return true
}

func (m *Model) bind(raw any) error {
	data, ok := raw.(map[string]any)
	if !ok {
		return typeError(m.field.Spec().Name, raw, "object")
	}
	m.raw = data
	return m.ClearCache()
}

func (m *Model) slot(key any) (any, slotState) {
	k, ok := key.(string)
	if !ok {
		return nil, slotInvalid
	}
	v, ok := m.raw[k]
	if !ok {
		return nil, slotMissing
	}
	return v, slotPresent
}

func (m *Model) setSlot(key any, raw any) {
	m.raw[key.(string)] = raw
}

// valuesEqual compares converted values. Nodes compare by raw content.
func valuesEqual(a, b any) bool {
	if na, ok := a.(Node); ok {
		nb, ok := b.(Node)
		return ok && reflect.DeepEqual(na.Raw(), nb.Raw())
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}
