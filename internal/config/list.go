package config

import (
	"reflect"
	"slices"

	"github.com/dshills/confmodel/internal/config/notify"
	"github.com/dshills/confmodel/internal/config/store"
)

// ListField declares an array whose elements are described by Elem. A nil
// Elem holds primitives.
type ListField struct {
	Base
	Elem   Field
	MinLen *int
	MaxLen *int
}

func (f *ListField) Kinds() []Kind { return []Kind{KindList, KindAny} }

// Convert binds raw, which must be an array, to a new unattached List.
func (f *ListField) Convert(rt Attributes, raw any) (any, error) {
	return f.newNode(rt, nil, nil, raw)
}

// Serialize returns the live raw array of a *List, or serializes each
// element of a slice.
func (f *ListField) Serialize(rt Attributes, value any) (any, error) {
	return f.serializeWith(staticAttrs(rt), value)
}

func (f *ListField) elem() Field {
	if f.Elem == nil {
		return &PrimitiveField{}
	}
	return f.Elem
}

func (f *ListField) checkLen(n int) error {
	if f.MinLen != nil && n < *f.MinLen {
		return rangeError(f.Name, n, "length %d is less than %d", n, *f.MinLen)
	}
	if f.MaxLen != nil && n > *f.MaxLen {
		return rangeError(f.Name, n, "length %d is greater than %d", n, *f.MaxLen)
	}
	return nil
}

func (f *ListField) newNode(rt Attributes, parent Node, key any, raw any) (Node, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, typeError(f.Name, raw, "array")
	}
	l := newList(f)
	l.attach(f, parent, key)
	l.seed(rt)
	if err := l.bind(arr); err != nil {
		return nil, err
	}
	return l, nil
}

func (f *ListField) serializeWith(attrs func(...Kind) Attributes, value any) (any, error) {
	if l, ok := value.(*List); ok {
		return l.raw, nil
	}

	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, typeError(f.Name, value, "slice")
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}
	if err := f.checkLen(len(items)); err != nil {
		return nil, err
	}

	elem := f.elem()
	rt := attrs(elem.Kinds()...)
	out := make([]any, len(items))
	for i, item := range items {
		raw, err := serializeElem(elem, rt, attrs, item)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

// serializeElem serializes one container element.
func serializeElem(elem Field, rt Attributes, attrs func(...Kind) Attributes, value any) (any, error) {
	if nf, ok := elem.(nodeField); ok {
		return nf.serializeWith(attrs, value)
	}
	return elem.Serialize(rt, value)
}

// List is a view over a raw array. Elements are converted on first access
// and cached per index.
type List struct {
	node
	raw   []any
	cache []any
	valid []bool
}

func newList(f *ListField) *List {
	l := &List{}
	l.self = l
	l.field = f
	return l
}

// NewList builds an unattached list for f holding values. A nil f holds
// primitives.
func NewList(f *ListField, values ...any) (*List, error) {
	if f == nil {
		f = &ListField{}
	}
	l := newList(f)
	l.raw = make([]any, 0, len(values))
	for _, v := range values {
		if err := l.Append(v); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *List) listField() *ListField {
	return l.field.(*ListField)
}

// Len returns the number of elements.
func (l *List) Len() int {
	return len(l.raw)
}

// Raw returns the live raw array.
func (l *List) Raw() any {
	return l.raw
}

func (l *List) checkIndex(i int, n int) error {
	if i < 0 || i >= n {
		return l.newError(ErrKeyNotFound, i, nil, nil)
	}
	return nil
}

// Get returns the converted element at i.
func (l *List) Get(i int) (any, error) {
	if err := l.checkIndex(i, len(l.raw)); err != nil {
		return nil, err
	}
	elem := l.listField().elem()
	if l.valid[i] {
		reattach(l.cache[i], elem, l, i)
		return l.cache[i], nil
	}

	v, err := convertChild(l, elem, i, l.raw[i])
	if err != nil {
		return nil, l.newError(ErrConversion, i, l.raw[i], err)
	}
	l.cache[i] = v
	l.valid[i] = true
	return v, nil
}

// Values converts and returns every element.
func (l *List) Values() ([]any, error) {
	out := make([]any, len(l.raw))
	for i := range l.raw {
		v, err := l.Get(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *List) serialize(i int, value any) (any, error) {
	elem := l.listField().elem()
	raw, err := serializeChild(l, elem, value)
	if err != nil {
		return nil, l.newError(ErrConversion, i, value, err)
	}
	if !store.IsPrimitive(raw) {
		return nil, l.newError(ErrTypeMismatch, i, value, nil)
	}
	return raw, nil
}

// Set replaces the element at i.
func (l *List) Set(i int, value any) error {
	if l.ReadOnly() {
		return l.newError(ErrReadOnly, i, value, nil)
	}
	if err := l.checkIndex(i, len(l.raw)); err != nil {
		return err
	}
	raw, err := l.serialize(i, value)
	if err != nil {
		return err
	}

	old := l.raw[i]
	l.raw[i] = raw
	l.cache[i] = nil
	l.valid[i] = false
	reattach(value, l.listField().elem(), l, i)

	l.changed(l.raw, i, notify.ChangeSet, old, raw)
	return nil
}

// Insert inserts value before index i. i may equal Len to append.
func (l *List) Insert(i int, value any) error {
	if l.ReadOnly() {
		return l.newError(ErrReadOnly, i, value, nil)
	}
	if err := l.checkIndex(i, len(l.raw)+1); err != nil {
		return err
	}
	if f := l.listField(); f.MaxLen != nil && len(l.raw)+1 > *f.MaxLen {
		return l.newError(ErrRange, i, value, rangeError(f.Name, len(l.raw)+1, "length would exceed %d", *f.MaxLen))
	}
	raw, err := l.serialize(i, value)
	if err != nil {
		return err
	}

	prev := l.raw
	l.raw = slices.Insert(l.raw, i, raw)
	l.cache = slices.Insert(l.cache, i, nil)
	l.valid = slices.Insert(l.valid, i, false)
	l.reindex(i + 1)
	reattach(value, l.listField().elem(), l, i)

	l.changed(prev, i, notify.ChangeInsert, nil, raw)
	return nil
}

// Append adds value at the end.
func (l *List) Append(value any) error {
	return l.Insert(len(l.raw), value)
}

// Delete removes the element at i.
func (l *List) Delete(i int) error {
	if l.ReadOnly() {
		return l.newError(ErrReadOnly, i, nil, nil)
	}
	if err := l.checkIndex(i, len(l.raw)); err != nil {
		return err
	}
	if f := l.listField(); f.MinLen != nil && len(l.raw)-1 < *f.MinLen {
		return l.newError(ErrRange, i, nil, rangeError(f.Name, len(l.raw)-1, "length would drop below %d", *f.MinLen))
	}

	prev := l.raw
	old := l.raw[i]
	if child, ok := l.cache[i].(Node); ok && l.valid[i] {
		child.base().attach(nil, nil, nil)
	}
	l.raw = slices.Delete(l.raw, i, i+1)
	l.cache = slices.Delete(l.cache, i, i+1)
	l.valid = slices.Delete(l.valid, i, i+1)
	l.reindex(i)

	l.changed(prev, i, notify.ChangeDelete, old, nil)
	return nil
}

// reindex updates the keys of cached child nodes from index from onwards.
func (l *List) reindex(from int) {
	for j := from; j < len(l.cache); j++ {
		if !l.valid[j] {
			continue
		}
		if child, ok := l.cache[j].(Node); ok {
			child.base().key = j
		}
	}
}

// ClearCache drops all converted elements. An eager list converts every
// element again right away.
func (l *List) ClearCache() error {
	l.cache = make([]any, len(l.raw))
	l.valid = make([]bool, len(l.raw))
	l.logger().Info("cache cleared")

	if l.field != nil && l.field.Spec().Eager {
		_, err := l.Values()
		return err
	}
	return nil
}

func (l *List) bind(raw any) error {
	arr, ok := raw.([]any)
	if !ok {
		return typeError(l.field.Spec().Name, raw, "array")
	}
	if err := l.listField().checkLen(len(arr)); err != nil {
		return err
	}
	l.raw = arr
	return l.ClearCache()
}

func (l *List) slot(key any) (any, slotState) {
	i, ok := key.(int)
	if !ok || i < 0 || i >= len(l.raw) {
		return nil, slotInvalid
	}
	return l.raw[i], slotPresent
}

func (l *List) setSlot(key any, raw any) {
	l.raw[key.(int)] = raw
}
