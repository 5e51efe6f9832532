package config

import (
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/dshills/confmodel/internal/config/notify"
)

// Node is a composite configuration node: a *Model, *List or *Dict.
//
// A node knows the field that declared it, its parent and the key or index
// it occupies there. Unattached nodes (built with NewModel, NewList or
// NewDict, or orphaned by a write) have no parent.
type Node interface {
	// Field returns the declaring field.
	Field() Field
	// Parent returns the parent node, nil for roots and unattached nodes.
	Parent() Node
	// Key returns the key or index the node occupies in its parent.
	Key() any
	// Root returns the Root the node is attached to, nil if unattached.
	Root() *Root
	// Path returns the location of the node from the root.
	Path() Path
	// File returns the root's file name, empty if unattached.
	File() string
	// ReadOnly reports whether the root is read-only.
	ReadOnly() bool
	// String returns "file:path".
	String() string
	// Raw returns the live raw value the node is bound to.
	Raw() any
	// ClearCache drops all converted values and re-runs eager conversion.
	ClearCache() error
	// SetRuntimeAttributes replaces the attributes for kind at this node.
	SetRuntimeAttributes(kind Kind, attrs Attributes)
	// RuntimeAttributes merges the attributes applying to a field with the
	// given kind chain at this node.
	RuntimeAttributes(kinds ...Kind) Attributes

	base() *node
	bind(raw any) error
	slot(key any) (any, slotState)
	setSlot(key any, raw any)
}

// slotState describes a key's presence in a node's raw data.
type slotState int

const (
	slotPresent slotState = iota
	slotMissing
	slotInvalid
)

// node holds the bookkeeping shared by every Node implementation.
type node struct {
	self    Node
	field   Field
	parent  Node
	key     any
	root    *Root // set on the root model only
	runtime map[Kind]Attributes
}

func (n *node) base() *node {
	return n
}

// Field returns the declaring field.
func (n *node) Field() Field {
	return n.field
}

// Parent returns the parent node.
func (n *node) Parent() Node {
	return n.parent
}

// Key returns the key or index the node occupies in its parent.
func (n *node) Key() any {
	return n.key
}

// Root returns the Root at the top of the parent chain.
func (n *node) Root() *Root {
	top := n.top()
	return top.root
}

func (n *node) top() *node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent.base()
	}
	return cur
}

// Path returns the keys and indices leading to the node. A node that is not
// attached to a Root starts its path with its field name, or "<null>" when
// the field has none.
func (n *node) Path() Path {
	var rev []any
	cur := n
	for cur.parent != nil {
		rev = append(rev, cur.key)
		cur = cur.parent.base()
	}

	p := make(Path, 0, len(rev)+1)
	if cur.root == nil {
		name := "<null>"
		if cur.field != nil && cur.field.Spec().Name != "" {
			name = cur.field.Spec().Name
		}
		p = append(p, name)
	}
	for i := len(rev) - 1; i >= 0; i-- {
		p = append(p, rev[i])
	}
	return p
}

// File returns the root's file name.
func (n *node) File() string {
	if r := n.Root(); r != nil {
		return r.File()
	}
	return ""
}

// ReadOnly reports whether the root is read-only. Unattached nodes are
// writable.
func (n *node) ReadOnly() bool {
	if r := n.Root(); r != nil {
		return r.readOnly
	}
	return false
}

func (n *node) String() string {
	file := n.File()
	if file == "" {
		file = "(no file)"
	}
	return file + ":" + n.Path().String()
}

// SetRuntimeAttributes replaces the attributes for fields of kind used at
// this node and its descendants, unless overridden deeper in the tree.
func (n *node) SetRuntimeAttributes(kind Kind, attrs Attributes) {
	if n.runtime == nil {
		n.runtime = make(map[Kind]Attributes)
	}
	cp := make(Attributes, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	n.runtime[kind] = cp
}

// RuntimeAttributes merges the attribute tables from the root down to this
// node. Within a node, less specific kinds are applied first; nearer nodes
// override farther ones.
func (n *node) RuntimeAttributes(kinds ...Kind) Attributes {
	var chain []*node
	for cur := n; ; cur = cur.parent.base() {
		chain = append(chain, cur)
		if cur.parent == nil {
			break
		}
	}

	out := make(Attributes)
	for i := len(chain) - 1; i >= 0; i-- {
		table := chain[i].runtime
		if len(table) == 0 {
			continue
		}
		for j := len(kinds) - 1; j >= 0; j-- {
			for k, v := range table[kinds[j]] {
				out[k] = v
			}
		}
	}
	return out
}

// attach records the node's place in the tree.
func (n *node) attach(f Field, parent Node, key any) {
	if f != nil {
		n.field = f
	}
	n.parent = parent
	n.key = key
}

// seed installs attributes passed to a field's Convert on a new node.
func (n *node) seed(rt Attributes) {
	if len(rt) > 0 {
		n.SetRuntimeAttributes(KindAny, rt)
	}
}

func (n *node) logger() logrus.FieldLogger {
	l := log
	if r := n.Root(); r != nil {
		l = r.log
	}
	return l.WithField("node", n.String())
}

func (n *node) newError(kind error, key any, value any, cause error) *Error {
	return &Error{
		Kind:  kind,
		File:  n.File(),
		Path:  n.Path(),
		Key:   key,
		Value: value,
		Err:   cause,
	}
}

// changed publishes the node after a mutation of its raw data and notifies
// the root. prev is the raw value the node held before the mutation.
func (n *node) changed(prev any, key any, typ notify.ChangeType, old, value any) {
	n.publish(prev)
	n.notifyUpdate(key, typ, old, value)
}

// notifyUpdate reports a change at key to the root, which marks itself
// dirty. Unattached trees have nobody to notify.
func (n *node) notifyUpdate(key any, typ notify.ChangeType, old, value any) {
	top := n.top()
	if top.root == nil {
		return
	}
	top.root.markDirty(notify.Change{
		Path:     n.Path().Append(key).String(),
		Type:     typ,
		OldValue: old,
		NewValue: value,
		Source:   top.root.File(),
	})
}

// publish links the node's raw value into its parent's raw data. This is
// needed when the node was built from a default (the parent slot is
// missing) or when a list changed length (a new slice header). The slot is
// only written when it still holds prev, so a node orphaned by a write to
// its parent never clobbers the new value.
func (n *node) publish(prev any) {
	if n.parent == nil {
		return
	}
	raw := n.self.Raw()
	cur, state := n.parent.slot(n.key)
	switch state {
	case slotInvalid:
		return
	case slotPresent:
		if sameRaw(cur, raw) {
			return
		}
		if !sameRaw(cur, prev) {
			n.logger().Debug("node is detached from its parent, not publishing")
			return
		}
	}

	parentPrev := n.parent.Raw()
	n.parent.setSlot(n.key, raw)
	n.parent.base().publish(parentPrev)
}

// sameRaw reports whether two raw containers are the same object. Slices
// must also have the same length.
func sameRaw(a, b any) bool {
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		return ok && reflect.ValueOf(x).Pointer() == reflect.ValueOf(y).Pointer()
	case []any:
		y, ok := b.([]any)
		return ok && len(x) == len(y) && reflect.ValueOf(x).Pointer() == reflect.ValueOf(y).Pointer()
	default:
		return false
	}
}

// nodeField is implemented by fields whose values are nodes.
type nodeField interface {
	Field
	newNode(rt Attributes, parent Node, key any, raw any) (Node, error)
	serializeWith(attrs func(...Kind) Attributes, value any) (any, error)
}

// convertChild converts raw for field f at key of parent. Node-valued
// fields produce a node already attached to parent.
func convertChild(parent Node, f Field, key any, raw any) (any, error) {
	if nf, ok := f.(nodeField); ok {
		return nf.newNode(nil, parent, key, raw)
	}
	return f.Convert(parent.RuntimeAttributes(f.Kinds()...), raw)
}

// serializeChild serializes value for field f under parent, resolving
// runtime attributes per element for containers.
func serializeChild(parent Node, f Field, value any) (any, error) {
	if nf, ok := f.(nodeField); ok {
		return nf.serializeWith(parent.RuntimeAttributes, value)
	}
	return f.Serialize(parent.RuntimeAttributes(f.Kinds()...), value)
}

// reattach makes a node value a child of parent at key.
func reattach(v any, f Field, parent Node, key any) {
	if child, ok := v.(Node); ok && child != parent {
		child.base().attach(f, parent, key)
	}
}

// staticAttrs adapts fixed attributes to the serializeWith lookup.
func staticAttrs(rt Attributes) func(...Kind) Attributes {
	return func(...Kind) Attributes { return rt }
}
