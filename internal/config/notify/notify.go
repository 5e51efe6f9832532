// Package notify provides change notification for configuration trees.
//
// A Notifier delivers the changes made through a configuration Root to
// subscribed observers: values set, inserted or deleted anywhere in the
// tree, reloads from disk and writes to disk. Subscriptions may narrow
// what they receive with filters on the changed path, the source file or
// the change type.
package notify

import (
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChangeType represents the type of configuration change.
type ChangeType int

const (
	// ChangeSet indicates a value was set or replaced.
	ChangeSet ChangeType = iota

	// ChangeInsert indicates an element was inserted into a list.
	ChangeInsert

	// ChangeDelete indicates a key or element was removed.
	ChangeDelete

	// ChangeReload indicates the whole file was read again.
	ChangeReload

	// ChangeWrite indicates pending changes were written to the file.
	ChangeWrite
)

var changeTypeNames = map[ChangeType]string{
	ChangeSet:    "set",
	ChangeInsert: "insert",
	ChangeDelete: "delete",
	ChangeReload: "reload",
	ChangeWrite:  "write",
}

// String returns the change type name.
func (c ChangeType) String() string {
	if name, ok := changeTypeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Change represents a configuration change event.
type Change struct {
	// Path locates the changed key, e.g. "guild.channels[2].name".
	// Empty for reload and write events.
	Path string

	// Type is the type of change.
	Type ChangeType

	// OldValue is the previous raw value (may be nil).
	OldValue any

	// NewValue is the new raw value (nil for deletes).
	NewValue any

	// Source is the configuration file the change belongs to.
	Source string
}

// Observer is called when configuration changes occur.
type Observer func(change Change)

// Filter selects the changes a subscription receives.
type Filter func(change Change) bool

// PathFilter matches changes at path or below it, e.g. "guild" matches
// "guild.prefix" and "guild[0]" but not "guilds". Reloads match every
// path since any value may have changed.
func PathFilter(path string) Filter {
	return func(c Change) bool {
		if c.Type == ChangeReload {
			return true
		}
		return c.Path != "" && isWithin(path, c.Path)
	}
}

// SourceFilter matches changes to one file.
func SourceFilter(source string) Filter {
	return func(c Change) bool {
		return c.Source == source
	}
}

// TypeFilter matches changes of the given types.
func TypeFilter(types ...ChangeType) Filter {
	return func(c Change) bool {
		return slices.Contains(types, c.Type)
	}
}

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	observer Observer
	filters  []Filter
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

func (s *Subscription) matches(c Change) bool {
	for _, f := range s.filters {
		if !f(c) {
			return false
		}
	}
	return true
}

// Notifier manages configuration change subscriptions. Observers are
// called in subscription order.
type Notifier struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64

	async  bool
	buffer chan Change
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool

	log logrus.FieldLogger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAsync delivers changes from a background goroutine through a buffer
// of the given size. Notify blocks while the buffer is full.
func WithAsync(bufferSize int) Option {
	return func(n *Notifier) {
		if bufferSize > 0 {
			n.async = true
			n.buffer = make(chan Change, bufferSize)
		}
	}
}

// WithLogger sets the logger used to report panicking observers.
func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// New creates a new Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		done: make(chan struct{}),
		log:  logrus.WithField("module", "config.notify"),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.async {
		n.wg.Add(1)
		go n.processAsync()
	}
	return n
}

// Subscribe registers an observer for the changes matching every filter.
// Without filters it receives all changes.
func (n *Notifier) Subscribe(observer Observer, filters ...Filter) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := &Subscription{
		id:       n.nextID,
		observer: observer,
		filters:  filters,
		notifier: n,
	}
	n.nextID++
	n.subs = append(n.subs, s)
	return s
}

// SubscribePath registers an observer for changes at or below path.
func (n *Notifier) SubscribePath(path string, observer Observer) *Subscription {
	return n.Subscribe(observer, PathFilter(path))
}

// Notify sends a change to all matching observers. Changes sent after
// Close are dropped.
func (n *Notifier) Notify(change Change) {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return
	}

	if n.async {
		select {
		case n.buffer <- change:
		case <-n.done:
		}
		return
	}
	n.deliver(change)
}

// NotifySet is a convenience method for set changes.
func (n *Notifier) NotifySet(path string, oldValue, newValue any, source string) {
	n.Notify(Change{Path: path, Type: ChangeSet, OldValue: oldValue, NewValue: newValue, Source: source})
}

// NotifyDelete is a convenience method for delete changes.
func (n *Notifier) NotifyDelete(path string, oldValue any, source string) {
	n.Notify(Change{Path: path, Type: ChangeDelete, OldValue: oldValue, Source: source})
}

// NotifyReload is a convenience method for reload events.
func (n *Notifier) NotifyReload(source string) {
	n.Notify(Change{Type: ChangeReload, Source: source})
}

// NotifyWrite is a convenience method for write events.
func (n *Notifier) NotifyWrite(source string) {
	n.Notify(Change{Type: ChangeWrite, Source: source})
}

// Len returns the number of active subscriptions.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Close shuts down the notifier, delivering buffered changes first. It is
// safe to call Close multiple times.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.done)
	n.wg.Wait()
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = slices.DeleteFunc(n.subs, func(s *Subscription) bool { return s.id == id })
}

// deliver calls the matching observers outside the lock, so observers may
// subscribe or unsubscribe.
func (n *Notifier) deliver(change Change) {
	n.mu.RLock()
	var targets []*Subscription
	for _, s := range n.subs {
		if s.matches(change) {
			targets = append(targets, s)
		}
	}
	n.mu.RUnlock()

	for _, s := range targets {
		n.call(s, change)
	}
}

func (n *Notifier) call(s *Subscription, change Change) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithFields(logrus.Fields{
				"path":  change.Path,
				"type":  change.Type.String(),
				"panic": r,
			}).Error("observer panicked")
		}
	}()
	s.observer(change)
}

func (n *Notifier) processAsync() {
	defer n.wg.Done()

	for {
		select {
		case change := <-n.buffer:
			n.deliver(change)
		case <-n.done:
			for {
				select {
				case change := <-n.buffer:
					n.deliver(change)
				default:
					return
				}
			}
		}
	}
}

// isWithin reports whether path equals parent or lies below it. An empty
// parent contains every path.
func isWithin(parent, path string) bool {
	if parent == "" || parent == path {
		return true
	}
	if !strings.HasPrefix(path, parent) {
		return false
	}
	next := path[len(parent)]
	return next == '.' || next == '['
}
