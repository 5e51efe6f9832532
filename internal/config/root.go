package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/dshills/confmodel/internal/config/notify"
	"github.com/dshills/confmodel/internal/config/store"
)

// Root is the top-level model of a configuration file. It owns the store
// strategy, the raw tree and the dirty flag.
//
// Writes anywhere in the tree only mark the Root dirty; Write persists the
// tree. A Root is not safe for concurrent use, and a file must be owned by
// a single Root at a time.
type Root struct {
	*Model

	strategy store.Strategy
	readOnly bool
	dirty    bool
	log      logrus.FieldLogger
	notifier *notify.Notifier
}

// Option configures a Root.
type Option func(*Root)

// WithReadOnly makes the root refuse every write.
func WithReadOnly(readOnly bool) Option {
	return func(r *Root) {
		r.readOnly = readOnly
	}
}

// WithSchema sets the root schema. Sections can also be added later with
// Register.
func WithSchema(schema *Schema) Option {
	return func(r *Root) {
		r.Model.schema = schema
		r.Model.field.(*ModelField).Schema = schema
	}
}

// WithLogger sets the logger used by the root and its nodes.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Root) {
		if l != nil {
			r.log = l
		}
	}
}

// WithNotifier sets the notifier receiving change events.
func WithNotifier(n *notify.Notifier) Option {
	return func(r *Root) {
		r.notifier = n
	}
}

// Open binds a Root to strategy and reads the file. Strategies that cannot
// write make the root read-only.
//
// A missing file is created empty unless the root is read-only, in which
// case the error matches fs.ErrNotExist.
func Open(strategy store.Strategy, opts ...Option) (*Root, error) {
	schema := NewSchema("root")
	r := &Root{
		strategy: strategy,
		log:      log,
	}
	m := newModel(&ModelField{Base: Base{Name: "root"}, Schema: schema}, schema)
	m.root = r
	r.Model = m

	for _, opt := range opts {
		opt(r)
	}
	if strategy.ReadOnly() {
		r.readOnly = true
	}
	r.log = r.log.WithField("file", strategy.Filename())

	if err := r.Read(); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenFile opens path with the strategy matching its extension.
func OpenFile(path string, opts ...Option) (*Root, error) {
	s, err := store.ForFile(path)
	if err != nil {
		return nil, err
	}
	return Open(s, opts...)
}

// File returns the file name.
func (r *Root) File() string {
	return r.strategy.Filename()
}

// ReadOnly reports whether writes are refused.
func (r *Root) ReadOnly() bool {
	return r.readOnly
}

// Dirty reports whether the tree has unwritten changes.
func (r *Root) Dirty() bool {
	return r.dirty
}

// Data returns the live raw tree. Changes made to it directly are neither
// detected nor written.
func (r *Root) Data() map[string]any {
	return r.Model.raw
}

// Notifier returns the change notifier, if any.
func (r *Root) Notifier() *notify.Notifier {
	return r.notifier
}

// Register declares key as a section described by schema. A missing
// section reads as empty. Unless lazy, the section is converted right away,
// and again on every Read, so invalid data fails early.
func (r *Root) Register(key string, schema *Schema, lazy bool) error {
	return r.RegisterField(&ModelField{
		Base: Base{
			Name:    key,
			Default: map[string]any{},
			Eager:   !lazy,
		},
		Schema: schema,
	})
}

// RegisterField declares a top-level field, replacing any field of the
// same name.
func (r *Root) RegisterField(f Field) error {
	key := f.Spec().Name
	if IsReservedKey(key) || key == "" {
		return r.newError(ErrNameInvalid, key, nil, nil)
	}
	r.Model.schema = r.Model.schema.with(f)
	r.Model.field.(*ModelField).Schema = r.Model.schema
	delete(r.Model.cache, key)
	r.log.WithFields(logrus.Fields{"key": key, "kinds": f.Kinds()}).Info("registered key")

	if f.Spec().Eager {
		if _, err := r.Get(key); err != nil {
			return err
		}
	}
	return nil
}

// Read reloads the file, rebinds the tree and converts eager sections. A
// missing writable file is created.
func (r *Root) Read() error {
	r.log.Info("reading file")
	data, err := r.strategy.Read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || r.readOnly {
			return err
		}
		r.log.Warn("file not found, creating it")
		if err := r.Model.bind(make(map[string]any)); err != nil {
			return err
		}
		r.dirty = true
		return r.Write()
	}

	r.dirty = false
	if err := r.Model.bind(data); err != nil {
		return err
	}
	if r.notifier != nil {
		r.notifier.NotifyReload(r.File())
	}
	return nil
}

// Write persists the tree if it is dirty and clears the dirty flag.
func (r *Root) Write() error {
	if r.readOnly {
		return &Error{Kind: ErrReadOnly, File: r.File()}
	}
	if !r.dirty {
		r.log.Debug("not dirty, skipping write")
		return nil
	}

	r.log.Info("writing file")
	if err := r.strategy.Write(r.Model.raw); err != nil {
		return err
	}
	r.dirty = false
	if r.notifier != nil {
		r.notifier.NotifyWrite(r.File())
	}
	return nil
}

// markDirty records a change made somewhere in the tree.
func (r *Root) markDirty(change notify.Change) {
	r.dirty = true
	if r.notifier != nil {
		r.notifier.Notify(change)
	}
}

// GetPath returns the raw value at path without any schema. Containers are
// returned live.
func (r *Root) GetPath(path Path) (any, error) {
	r.log.WithField("path", path.String()).Debug("get path")
	v, err := lookupPath(r.Model.raw, path)
	if err != nil {
		return nil, r.withFile(err)
	}
	return v, nil
}

// GetPathOr returns the raw value at path, or def if it cannot be found.
func (r *Root) GetPathOr(path Path, def any) any {
	v, err := lookupPath(r.Model.raw, path)
	if err != nil {
		r.log.WithField("path", path.String()).Debug("path not found, using default")
		return def
	}
	return v
}

// SetPath stores a deep copy of value at path without any schema. With
// makePath, missing intermediate objects are created; arrays are never
// extended. Converted values cached along path are dropped, so nodes
// retrieved earlier see the new value.
func (r *Root) SetPath(path Path, value any, makePath bool) error {
	if r.readOnly {
		return &Error{Kind: ErrReadOnly, File: r.File(), Path: path}
	}
	raw, err := store.Normalize(value)
	if err != nil {
		return &Error{Kind: ErrTypeMismatch, File: r.File(), Path: path, Value: value, Err: err}
	}

	r.log.WithField("path", path.String()).Debug("set path")
	old, _ := lookupPath(r.Model.raw, path)
	if err := assignPath(r.Model.raw, path, raw, makePath); err != nil {
		return r.withFile(err)
	}

	forgetPath(r.Model, path)
	r.markDirty(notify.Change{
		Path:     path.String(),
		Type:     notify.ChangeSet,
		OldValue: old,
		NewValue: raw,
		Source:   r.File(),
	})
	return nil
}

// forgetPath drops the cached value at path below n. Cached nodes on the
// way that are still bound to the tree's containers are kept; any other
// cached value on the way is stale and dropped.
func forgetPath(n Node, path Path) {
	raw := n.Raw()
	for i, elem := range path {
		next, _ := step(raw, elem)
		var cached any
		var drop func()
		switch node := n.(type) {
		case *Model:
			key, _ := elem.(string)
			cached = node.cache[key]
			drop = func() { delete(node.cache, key) }
		case *Dict:
			key, _ := elem.(string)
			cached = node.cache[key]
			drop = func() { delete(node.cache, key) }
		case *List:
			idx, ok := elem.(int)
			if !ok || idx < 0 || idx >= len(node.cache) || !node.valid[idx] {
				return
			}
			cached = node.cache[idx]
			drop = func() {
				node.cache[idx] = nil
				node.valid[idx] = false
			}
		default:
			return
		}

		child, ok := cached.(Node)
		if i == len(path)-1 || !ok || !sameContainer(child.Raw(), next) {
			drop()
			return
		}
		n, raw = child, next
	}
}

// sameContainer reports whether a and b are the same map or slice.
func sameContainer(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice:
		return va.UnsafePointer() == vb.UnsafePointer()
	default:
		return false
	}
}

// withFile sets the file name on errors raised by the path helpers.
func (r *Root) withFile(err error) error {
	var cerr *Error
	if errors.As(err, &cerr) && cerr.File == "" {
		cerr.File = r.File()
	}
	return err
}

// String returns the file name, marked when read-only.
func (r *Root) String() string {
	if r.readOnly {
		return fmt.Sprintf("%s[ro]", r.File())
	}
	return r.File()
}
