// Package reference provides configuration fields whose values name
// entities of an external chat service: channels, roles and members.
//
// Files store entity IDs. Converting a reference asks a Resolver, injected
// as a runtime attribute, for the live entity:
//
//	root.SetRuntimeAttributes(reference.KindReference, config.Attributes{
//	    reference.AttrResolver: dir,
//	})
//
// When the resolver is missing or not ready yet, conversion returns a
// *Placeholder carrying the raw ID or name instead of blocking.
package reference

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dshills/confmodel/internal/config"
)

// AttrResolver is the runtime attribute holding the Resolver.
const AttrResolver = "resolver"

// Field kinds of reference fields. Attributes set for KindReference apply
// to every reference field; KindChannel applies to all channel fields.
const (
	KindReference       config.Kind = "reference"
	KindChannel         config.Kind = "channel"
	KindTextChannel     config.Kind = "text_channel"
	KindVoiceChannel    config.Kind = "voice_channel"
	KindCategoryChannel config.Kind = "category_channel"
	KindRole            config.Kind = "role"
	KindMember          config.Kind = "member"
)

// Resolver errors.
var (
	// ErrNotFound indicates no entity matches the reference.
	ErrNotFound = errors.New("entity not found")

	// ErrNotReady indicates the resolver cannot answer yet, e.g. before the
	// service connection is up.
	ErrNotReady = errors.New("resolver not ready")
)

var log logrus.FieldLogger = logrus.WithField("module", "config.reference")

// EntityKind identifies the type of an external entity.
type EntityKind int

const (
	// EntityChannel is any guild channel. Fields of this kind accept text,
	// voice and category channels.
	EntityChannel EntityKind = iota
	EntityTextChannel
	EntityVoiceChannel
	EntityCategoryChannel
	EntityRole
	EntityMember
)

// String returns the entity kind name.
func (k EntityKind) String() string {
	switch k {
	case EntityChannel:
		return "channel"
	case EntityTextChannel:
		return "text channel"
	case EntityVoiceChannel:
		return "voice channel"
	case EntityCategoryChannel:
		return "category channel"
	case EntityRole:
		return "role"
	case EntityMember:
		return "member"
	default:
		return "unknown"
	}
}

// IsChannel reports whether k is a channel kind.
func (k EntityKind) IsChannel() bool {
	switch k {
	case EntityChannel, EntityTextChannel, EntityVoiceChannel, EntityCategoryChannel:
		return true
	}
	return false
}

// Accepts reports whether an entity of kind other satisfies k.
func (k EntityKind) Accepts(other EntityKind) bool {
	if k == EntityChannel {
		return other.IsChannel()
	}
	return k == other
}

// family returns the lookup namespace of k. Channel IDs and names share one
// namespace regardless of the channel type.
func (k EntityKind) family() EntityKind {
	if k.IsChannel() {
		return EntityChannel
	}
	return k
}

// Entity is a resolved external entity.
type Entity struct {
	Kind EntityKind
	ID   int64
	Name string
}

// Mention returns the chat mention syntax for the entity.
func (e *Entity) Mention() string {
	id := strconv.FormatInt(e.ID, 10)
	switch {
	case e.Kind.IsChannel():
		return "<#" + id + ">"
	case e.Kind == EntityRole:
		return "<@&" + id + ">"
	default:
		return "<@" + id + ">"
	}
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s %s (%d)", e.Kind, e.Name, e.ID)
}

// Query identifies an entity by ID or, when ID is zero, by name.
type Query struct {
	ID   int64
	Name string
}

func (q Query) String() string {
	if q.ID != 0 {
		return strconv.FormatInt(q.ID, 10)
	}
	return strconv.Quote(q.Name)
}

// Resolver looks up entities. Resolve must not block waiting for the
// service; it returns ErrNotReady instead.
type Resolver interface {
	Resolve(kind EntityKind, q Query) (*Entity, error)
}

// Placeholder stands in for an entity that could not be resolved. It keeps
// the raw ID or name so the value is written back unchanged.
type Placeholder struct {
	Kind EntityKind
	ID   int64
	Name string
}

func (p *Placeholder) String() string {
	if p.ID != 0 {
		return fmt.Sprintf("%s %d (unresolved)", p.Kind, p.ID)
	}
	return fmt.Sprintf("%s %q (unresolved)", p.Kind, p.Name)
}
