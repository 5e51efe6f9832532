package config

import (
	"reflect"
	"sort"

	"github.com/dshills/confmodel/internal/config/notify"
	"github.com/dshills/confmodel/internal/config/store"
)

// DictField declares an object with arbitrary string keys whose values are
// described by Elem. A nil Elem holds primitives.
//
// With MergeDefaults set and a map Default, keys of the default missing
// from the file are visible through the Dict; keys in the file win.
type DictField struct {
	Base
	Elem          Field
	MergeDefaults bool
}

func (f *DictField) Kinds() []Kind { return []Kind{KindDict, KindAny} }

// Convert binds raw, which must be an object, to a new unattached Dict.
func (f *DictField) Convert(rt Attributes, raw any) (any, error) {
	return f.newNode(rt, nil, nil, raw)
}

// Serialize returns the live raw map of a *Dict, or serializes each value
// of a string-keyed map.
func (f *DictField) Serialize(rt Attributes, value any) (any, error) {
	return f.serializeWith(staticAttrs(rt), value)
}

func (f *DictField) elem() Field {
	if f.Elem == nil {
		return &PrimitiveField{}
	}
	return f.Elem
}

// defaults returns the map default overlaid beneath the file's keys.
func (f *DictField) defaults() map[string]any {
	if !f.MergeDefaults {
		return nil
	}
	m, _ := f.Default.(map[string]any)
	return m
}

func (f *DictField) newNode(rt Attributes, parent Node, key any, raw any) (Node, error) {
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, typeError(f.Name, raw, "object")
	}
	d := newDict(f)
	d.attach(f, parent, key)
	d.seed(rt)
	if err := d.bind(data); err != nil {
		return nil, err
	}
	return d, nil
}

func (f *DictField) serializeWith(attrs func(...Kind) Attributes, value any) (any, error) {
	if d, ok := value.(*Dict); ok {
		return d.raw, nil
	}

	var items map[string]any
	switch v := value.(type) {
	case map[string]any:
		items = v
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
			return nil, typeError(f.Name, value, "string-keyed map")
		}
		items = make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			items[iter.Key().String()] = iter.Value().Interface()
		}
	}

	elem := f.elem()
	rt := attrs(elem.Kinds()...)
	out := make(map[string]any, len(items))
	for k, item := range items {
		raw, err := serializeElem(elem, rt, attrs, item)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return out, nil
}

// Dict is a view over a raw object with arbitrary keys. Values are
// converted on first access and cached per key.
type Dict struct {
	node
	raw   map[string]any
	cache map[string]any
}

func newDict(f *DictField) *Dict {
	d := &Dict{
		raw:   make(map[string]any),
		cache: make(map[string]any),
	}
	d.self = d
	d.field = f
	return d
}

// NewDict builds an unattached dict for f holding values. A nil f holds
// primitives.
func NewDict(f *DictField, values map[string]any) (*Dict, error) {
	if f == nil {
		f = &DictField{}
	}
	d := newDict(f)
	for _, k := range sortedKeys(values) {
		if err := d.Set(k, values[k]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Dict) dictField() *DictField {
	return d.field.(*DictField)
}

// Raw returns the live raw map. Merged defaults are not included.
func (d *Dict) Raw() any {
	return d.raw
}

// lookup returns the raw value for key, falling back to merged defaults.
func (d *Dict) lookup(key string) (any, bool) {
	if v, ok := d.raw[key]; ok {
		return v, true
	}
	if v, ok := d.dictField().defaults()[key]; ok {
		return store.CloneValue(v), true
	}
	return nil, false
}

// Len returns the number of visible keys.
func (d *Dict) Len() int {
	return len(d.Keys())
}

// Keys returns the visible keys, sorted.
func (d *Dict) Keys() []string {
	defaults := d.dictField().defaults()
	if len(defaults) == 0 {
		return sortedKeys(d.raw)
	}
	union := make(map[string]any, len(d.raw)+len(defaults))
	for k := range defaults {
		union[k] = nil
	}
	for k := range d.raw {
		union[k] = nil
	}
	return sortedKeys(union)
}

// Has reports whether key is visible.
func (d *Dict) Has(key string) bool {
	_, ok := d.lookup(key)
	return ok
}

// Get returns the converted value for key.
func (d *Dict) Get(key string) (any, error) {
	elem := d.dictField().elem()
	if v, ok := d.cache[key]; ok {
		reattach(v, elem, d, key)
		return v, nil
	}

	raw, ok := d.lookup(key)
	if !ok {
		return nil, d.newError(ErrKeyNotFound, key, nil, nil)
	}
	v, err := convertChild(d, elem, key, raw)
	if err != nil {
		return nil, d.newError(ErrConversion, key, raw, err)
	}
	d.cache[key] = v
	return v, nil
}

// Values converts and returns every visible value.
func (d *Dict) Values() (map[string]any, error) {
	keys := d.Keys()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := d.Get(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Set serializes value into the raw map at key.
func (d *Dict) Set(key string, value any) error {
	if d.ReadOnly() {
		return d.newError(ErrReadOnly, key, value, nil)
	}
	elem := d.dictField().elem()
	raw, err := serializeChild(d, elem, value)
	if err != nil {
		return d.newError(ErrConversion, key, value, err)
	}
	if !store.IsPrimitive(raw) {
		return d.newError(ErrTypeMismatch, key, value, nil)
	}

	old := d.raw[key]
	d.raw[key] = raw
	delete(d.cache, key)
	reattach(value, elem, d, key)

	d.changed(d.raw, key, notify.ChangeSet, old, raw)
	return nil
}

// Delete removes key from the raw map. A merged default for key becomes
// visible again.
func (d *Dict) Delete(key string) error {
	if d.ReadOnly() {
		return d.newError(ErrReadOnly, key, nil, nil)
	}
	old, ok := d.raw[key]
	if !ok {
		return d.newError(ErrKeyNotFound, key, nil, nil)
	}
	delete(d.raw, key)
	delete(d.cache, key)

	d.changed(d.raw, key, notify.ChangeDelete, old, nil)
	return nil
}

// ClearCache drops all converted values. An eager dict converts every value
// again right away.
func (d *Dict) ClearCache() error {
	d.cache = make(map[string]any)
	d.logger().Info("cache cleared")

	if d.field != nil && d.field.Spec().Eager {
		_, err := d.Values()
		return err
	}
	return nil
}

func (d *Dict) bind(raw any) error {
	data, ok := raw.(map[string]any)
	if !ok {
		return typeError(d.field.Spec().Name, raw, "object")
	}
	d.raw = data
	return d.ClearCache()
}

func (d *Dict) slot(key any) (any, slotState) {
	k, ok := key.(string)
	if !ok {
		return nil, slotInvalid
	}
	v, ok := d.raw[k]
	if !ok {
		return nil, slotMissing
	}
	return v, slotPresent
}

func (d *Dict) setSlot(key any, raw any) {
	d.raw[key.(string)] = raw
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
