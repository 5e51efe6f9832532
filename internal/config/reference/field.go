package reference

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dshills/confmodel/internal/config"
)

var mentionPattern = regexp.MustCompile(`^<(#|@&|@!?)(\d+)>$`)

// Field references an entity of kind Entity by ID or name. Files always
// store the ID once the entity is known.
//
// With MustExist, an entity the resolver reports as missing is an error.
// Otherwise, and whenever no resolver is available or it is not ready, the
// value converts to a *Placeholder.
type Field struct {
	config.Base
	Entity    EntityKind
	MustExist bool
}

// Channel returns a field for any guild channel.
func Channel(name string, mustExist bool) *Field {
	return newField(name, EntityChannel, mustExist)
}

// TextChannel returns a field for a text channel.
func TextChannel(name string, mustExist bool) *Field {
	return newField(name, EntityTextChannel, mustExist)
}

// VoiceChannel returns a field for a voice channel.
func VoiceChannel(name string, mustExist bool) *Field {
	return newField(name, EntityVoiceChannel, mustExist)
}

// CategoryChannel returns a field for a channel category.
func CategoryChannel(name string, mustExist bool) *Field {
	return newField(name, EntityCategoryChannel, mustExist)
}

// Role returns a field for a role.
func Role(name string, mustExist bool) *Field {
	return newField(name, EntityRole, mustExist)
}

// Member returns a field for a guild member.
func Member(name string, mustExist bool) *Field {
	return newField(name, EntityMember, mustExist)
}

func newField(name string, kind EntityKind, mustExist bool) *Field {
	return &Field{
		Base:      config.Base{Name: name},
		Entity:    kind,
		MustExist: mustExist,
	}
}

// Kinds returns the kind chain, e.g. text_channel, channel, reference, any.
func (f *Field) Kinds() []config.Kind {
	switch f.Entity {
	case EntityChannel:
		return []config.Kind{KindChannel, KindReference, config.KindAny}
	case EntityTextChannel:
		return []config.Kind{KindTextChannel, KindChannel, KindReference, config.KindAny}
	case EntityVoiceChannel:
		return []config.Kind{KindVoiceChannel, KindChannel, KindReference, config.KindAny}
	case EntityCategoryChannel:
		return []config.Kind{KindCategoryChannel, KindChannel, KindReference, config.KindAny}
	case EntityRole:
		return []config.Kind{KindRole, KindReference, config.KindAny}
	case EntityMember:
		return []config.Kind{KindMember, KindReference, config.KindAny}
	default:
		return []config.Kind{KindReference, config.KindAny}
	}
}

// Convert resolves raw to an *Entity, or to a *Placeholder when the
// entity cannot be resolved right now.
func (f *Field) Convert(rt config.Attributes, raw any) (any, error) {
	q, err := f.parse(raw)
	if err != nil {
		return nil, err
	}

	l := log.WithFields(logrus.Fields{"field": f.Name, "entity": f.Entity.String(), "query": q.String()})
	res, _ := rt[AttrResolver].(Resolver)
	if res == nil {
		l.Debug("no resolver, using placeholder")
		return f.placeholder(q), nil
	}

	e, err := res.Resolve(f.Entity, q)
	if err == nil && e == nil {
		err = ErrNotFound
	}
	switch {
	case err == nil:
		if !f.Entity.Accepts(e.Kind) {
			return nil, &config.ValueError{
				Field:   f.Name,
				Value:   raw,
				Message: fmt.Sprintf("%s is not a %s", e, f.Entity),
				Err:     config.ErrTypeMismatch,
			}
		}
		return e, nil
	case errors.Is(err, ErrNotReady):
		l.Debug("resolver not ready, using placeholder")
		return f.placeholder(q), nil
	case errors.Is(err, ErrNotFound):
		if f.MustExist {
			return nil, fmt.Errorf("%s %s: %w", f.Entity, q, err)
		}
		l.Warn("entity not found, using placeholder")
		return f.placeholder(q), nil
	default:
		return nil, err
	}
}

// Serialize returns the entity ID. Placeholders without an ID store their
// name. Raw IDs, names and mentions are accepted too.
func (f *Field) Serialize(_ config.Attributes, value any) (any, error) {
	switch v := value.(type) {
	case *Entity:
		if v == nil {
			return nil, f.typeError(value)
		}
		if !f.Entity.Accepts(v.Kind) {
			return nil, &config.ValueError{
				Field:   f.Name,
				Value:   value,
				Message: fmt.Sprintf("%s is not a %s", v, f.Entity),
				Err:     config.ErrTypeMismatch,
			}
		}
		return v.ID, nil
	case *Placeholder:
		if v == nil {
			return nil, f.typeError(value)
		}
		return queryRaw(Query{ID: v.ID, Name: v.Name}), nil
	}

	q, err := f.parse(value)
	if err != nil {
		return nil, err
	}
	return queryRaw(q), nil
}

func queryRaw(q Query) any {
	if q.ID != 0 {
		return q.ID
	}
	return q.Name
}

func (f *Field) placeholder(q Query) *Placeholder {
	return &Placeholder{Kind: f.Entity, ID: q.ID, Name: q.Name}
}

func (f *Field) typeError(value any) error {
	return &config.ValueError{
		Field:   f.Name,
		Value:   value,
		Message: fmt.Sprintf("expected %s ID, name or mention, got %T", f.Entity, value),
		Err:     config.ErrTypeMismatch,
	}
}

func (f *Field) invalid(value any, message string) error {
	return &config.ValueError{Field: f.Name, Value: value, Message: message, Err: config.ErrInvalidValue}
}

// parse reads an ID, a numeric string, a mention, or a name. Channel names
// may be written as #name.
func (f *Field) parse(raw any) (Query, error) {
	switch v := raw.(type) {
	case int64:
		return f.parseID(raw, v)
	case int:
		return f.parseID(raw, int64(v))
	case float64:
		if v != math.Trunc(v) || v < 1 || v >= math.MaxInt64 {
			return Query{}, f.invalid(raw, "not a valid ID")
		}
		return f.parseID(raw, int64(v))
	case string:
		return f.parseString(v)
	default:
		return Query{}, f.typeError(raw)
	}
}

func (f *Field) parseID(raw any, id int64) (Query, error) {
	if id <= 0 {
		return Query{}, f.invalid(raw, "not a valid ID")
	}
	return Query{ID: id}, nil
}

func (f *Field) parseString(raw string) (Query, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Query{}, f.invalid(raw, "empty reference")
	}

	if m := mentionPattern.FindStringSubmatch(s); m != nil {
		if !f.mentionMatches(m[1]) {
			return Query{}, f.invalid(raw, fmt.Sprintf("not a %s mention", f.Entity))
		}
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Query{}, f.invalid(raw, "not a valid ID")
		}
		return f.parseID(raw, id)
	}

	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return f.parseID(raw, id)
	}

	if f.Entity.IsChannel() && strings.HasPrefix(s, "#") && len(s) > 1 {
		return Query{Name: s[1:]}, nil
	}
	return Query{Name: s}, nil
}

func (f *Field) mentionMatches(sigil string) bool {
	switch sigil {
	case "#":
		return f.Entity.IsChannel()
	case "@&":
		return f.Entity == EntityRole
	default:
		return f.Entity == EntityMember
	}
}
