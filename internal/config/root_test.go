package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/confmodel/internal/config/notify"
	"github.com/dshills/confmodel/internal/config/store"
)

// memStrategy is an in-memory store strategy for testing.
type memStrategy struct {
	name     string
	data     map[string]any
	exists   bool
	readOnly bool
	reads    int
	writes   int
	fail     error
}

func newMemStrategy(data map[string]any) *memStrategy {
	return &memStrategy{name: "mem.json", data: data, exists: data != nil}
}

func (s *memStrategy) Filename() string { return s.name }
func (s *memStrategy) ReadOnly() bool   { return s.readOnly }

func (s *memStrategy) Read() (map[string]any, error) {
	s.reads++
	if !s.exists {
		return nil, fmt.Errorf("read %s: %w", s.name, fs.ErrNotExist)
	}
	return store.Clone(s.data), nil
}

func (s *memStrategy) Write(data map[string]any) error {
	if s.readOnly {
		return store.ErrReadOnly
	}
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	s.exists = true
	s.data = store.Clone(data)
	return nil
}

func openMem(t *testing.T, data map[string]any, opts ...Option) (*Root, *memStrategy) {
	t.Helper()
	s := newMemStrategy(data)
	root, err := Open(s, opts...)
	require.NoError(t, err)
	return root, s
}

func TestOpen_MissingFileIsCreated(t *testing.T) {
	root, s := openMem(t, nil)

	assert.Equal(t, 1, s.writes)
	assert.False(t, root.Dirty())
	assert.Empty(t, root.Data())
	assert.Equal(t, map[string]any{}, s.data)
}

func TestOpen_MissingReadOnlyFile(t *testing.T) {
	_, err := Open(newMemStrategy(nil), WithReadOnly(true))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpen_ReadOnlyStrategyForcesReadOnly(t *testing.T) {
	s := newMemStrategy(map[string]any{})
	s.readOnly = true
	root, err := Open(s)
	require.NoError(t, err)
	assert.True(t, root.ReadOnly())
	assert.Equal(t, "mem.json[ro]", root.String())
}

func TestOpenFile_TOMLIsReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "static.toml")
	require.NoError(t, os.WriteFile(path, []byte("[core]\nname = \"bot\"\n"), 0o644))

	root, err := OpenFile(path)
	require.NoError(t, err)
	assert.True(t, root.ReadOnly())

	require.NoError(t, root.Register("core", NewSchema("core", &StringField{Base: Base{Name: "name"}}), false))
	core, err := root.GetModel("core")
	require.NoError(t, err)
	name, err := core.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "bot", name)
}

func TestRoot_DirtyAndWrite(t *testing.T) {
	root, s := openMem(t, map[string]any{"count": int64(1)},
		WithSchema(NewSchema("root", &IntegerField{Base: Base{Name: "count"}})))

	assert.False(t, root.Dirty())
	require.NoError(t, root.Write())
	assert.Equal(t, 0, s.writes, "clean root must not write")

	require.NoError(t, root.Set("count", 2))
	assert.True(t, root.Dirty())

	require.NoError(t, root.Write())
	assert.Equal(t, 1, s.writes)
	assert.False(t, root.Dirty())
	assert.Equal(t, int64(2), s.data["count"])

	require.NoError(t, root.Write())
	assert.Equal(t, 1, s.writes, "second write must not do I/O")
}

func TestRoot_WriteFailureKeepsDirty(t *testing.T) {
	root, s := openMem(t, map[string]any{},
		WithSchema(NewSchema("root", &IntegerField{Base: Base{Name: "count"}})))
	s.fail = errors.New("disk full")

	require.NoError(t, root.Set("count", 2))
	assert.EqualError(t, root.Write(), "disk full")
	assert.True(t, root.Dirty())
}

func TestRoot_NestedWriteMarksDirty(t *testing.T) {
	root, s := openMem(t, map[string]any{"guild": map[string]any{"tags": []any{"a"}}})
	require.NoError(t, root.Register("guild", NewSchema("guild",
		&ListField{Base: Base{Name: "tags"}, Elem: &StringField{}},
	), true))

	guild, err := root.GetModel("guild")
	require.NoError(t, err)
	tags, err := guild.GetList("tags")
	require.NoError(t, err)

	require.NoError(t, tags.Append("b"))
	assert.True(t, root.Dirty())
	require.NoError(t, root.Write())

	want := map[string]any{"guild": map[string]any{"tags": []any{"a", "b"}}}
	if diff := cmp.Diff(want, s.data); diff != "" {
		t.Errorf("written data mismatch (-want +got):\n%s", diff)
	}
}

func TestRoot_Register(t *testing.T) {
	root, _ := openMem(t, map[string]any{"a": map[string]any{"x": int64(3)}})
	schema := NewSchema("a", &IntegerField{Base: Base{Name: "x"}})

	// Before registration the strict root rejects the key
	_, err := root.Get("a")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, root.Register("a", schema, true))
	x, err := Lookup[int64](root.Model, "a", "x")
	require.NoError(t, err)
	assert.Equal(t, int64(3), x)

	// A missing section reads as empty
	require.NoError(t, root.Register("b", NewSchema("b", &IntegerField{Base: Base{Name: "y", Default: int64(9)}}), true))
	y, err := Lookup[int64](root.Model, "b", "y")
	require.NoError(t, err)
	assert.Equal(t, int64(9), y)
	assert.NotContains(t, root.Data(), "b")

	assert.ErrorIs(t, root.Register("_hidden", schema, true), ErrNameInvalid)
	assert.ErrorIs(t, root.Register("cfg_x", schema, true), ErrNameInvalid)
}

func TestRoot_ScenarioA_RangeError(t *testing.T) {
	schema := NewSchema("a", &IntegerField{Base: Base{Name: "x"}, Min: int64Ptr(0), Max: int64Ptr(10)})

	t.Run("lazy", func(t *testing.T) {
		root, _ := openMem(t, map[string]any{"a": map[string]any{"x": int64(20)}})
		require.NoError(t, root.Register("a", schema, true))

		a, err := root.GetModel("a")
		require.NoError(t, err)
		_, err = a.Get("x")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRange)
		assert.ErrorIs(t, err, ErrConversion)

		var cerr *Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "mem.json", cerr.File)
		assert.True(t, cerr.Path.Equal(Path{"a"}))
		assert.Equal(t, "x", cerr.Key)
		assert.Contains(t, err.Error(), "mem.json:a.x")
	})

	t.Run("eager", func(t *testing.T) {
		root, _ := openMem(t, map[string]any{"a": map[string]any{"x": int64(20)}})
		err := root.Register("a", schema, false)
		assert.ErrorIs(t, err, ErrRange)
	})
}

func TestRoot_ScenarioD_ReadOnly(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{
			"x":     int64(1),
			"items": []any{int64(1)},
			"extra": map[string]any{"k": "v"},
		},
	}
	root, s := openMem(t, data, WithReadOnly(true))
	require.NoError(t, root.Register("a", NewSchema("a",
		&IntegerField{Base: Base{Name: "x"}},
		&ListField{Base: Base{Name: "items"}},
		&DictField{Base: Base{Name: "extra"}},
	), true))

	a, err := root.GetModel("a")
	require.NoError(t, err)
	items, err := a.GetList("items")
	require.NoError(t, err)
	extra, err := a.GetDict("extra")
	require.NoError(t, err)

	assert.ErrorIs(t, a.Set("x", 2), ErrReadOnly)
	assert.ErrorIs(t, a.Delete("x"), ErrReadOnly)
	assert.ErrorIs(t, items.Append(2), ErrReadOnly)
	assert.ErrorIs(t, items.Set(0, 2), ErrReadOnly)
	assert.ErrorIs(t, items.Delete(0), ErrReadOnly)
	assert.ErrorIs(t, extra.Set("k", "w"), ErrReadOnly)
	assert.ErrorIs(t, extra.Delete("k"), ErrReadOnly)
	assert.ErrorIs(t, root.SetPath(Path{"a", "x"}, 2, false), ErrReadOnly)
	assert.ErrorIs(t, root.Write(), ErrReadOnly)
	assert.True(t, items.ReadOnly())

	x, err := a.GetInt("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), x)
	v, err := extra.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	assert.False(t, root.Dirty())
	assert.Equal(t, 0, s.writes)
}

func TestRoot_ReadReloads(t *testing.T) {
	n := notify.New()
	var changes []notify.Change
	n.Subscribe(func(c notify.Change) { changes = append(changes, c) })

	root, s := openMem(t, map[string]any{"a": map[string]any{"x": int64(1)}}, WithNotifier(n))
	require.NoError(t, root.Register("a", NewSchema("a", &IntegerField{Base: Base{Name: "x"}}), true))

	first, err := root.GetModel("a")
	require.NoError(t, err)

	s.data = map[string]any{"a": map[string]any{"x": int64(5)}}
	require.NoError(t, root.Read())

	second, err := root.GetModel("a")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	x, err := second.GetInt("x")
	require.NoError(t, err)
	assert.Equal(t, int64(5), x)

	require.Len(t, changes, 2)
	assert.Equal(t, notify.ChangeReload, changes[0].Type)
	assert.Equal(t, notify.ChangeReload, changes[1].Type)
	assert.Equal(t, "mem.json", changes[1].Source)
}

func TestRoot_ReadFailsOnInvalidEagerSection(t *testing.T) {
	root, s := openMem(t, map[string]any{"a": map[string]any{"x": int64(1)}})
	require.NoError(t, root.Register("a", NewSchema("a", &IntegerField{Base: Base{Name: "x"}, Max: int64Ptr(3)}), false))

	s.data = map[string]any{"a": map[string]any{"x": int64(5)}}
	assert.ErrorIs(t, root.Read(), ErrRange)
}

func TestRoot_Notifications(t *testing.T) {
	n := notify.New()
	var all, scoped []notify.Change
	n.Subscribe(func(c notify.Change) { all = append(all, c) })
	n.SubscribePath("guild.channels", func(c notify.Change) { scoped = append(scoped, c) })

	root, _ := openMem(t, map[string]any{}, WithNotifier(n))
	require.NoError(t, root.Register("guild", NewSchema("guild",
		&StringField{Base: Base{Name: "prefix"}},
		&ListField{Base: Base{Name: "channels", Default: []any{}}},
	), true))
	all, scoped = nil, nil

	guild, err := root.GetModel("guild")
	require.NoError(t, err)
	require.NoError(t, guild.Set("prefix", "!"))
	channels, err := guild.GetList("channels")
	require.NoError(t, err)
	require.NoError(t, channels.Append("general"))
	require.NoError(t, channels.Delete(0))
	require.NoError(t, root.Write())

	require.Len(t, all, 4)
	assert.Equal(t, notify.Change{Path: "guild.prefix", Type: notify.ChangeSet, NewValue: "!", Source: "mem.json"}, all[0])
	assert.Equal(t, "guild.channels[0]", all[1].Path)
	assert.Equal(t, notify.ChangeInsert, all[1].Type)
	assert.Equal(t, notify.ChangeDelete, all[2].Type)
	assert.Equal(t, "general", all[2].OldValue)
	assert.Equal(t, notify.ChangeWrite, all[3].Type)

	require.Len(t, scoped, 2)
}

func TestRoot_PathAPI(t *testing.T) {
	root, s := openMem(t, map[string]any{
		"parent": map[string]any{
			"list": []any{map[string]any{"a": int64(1)}, map[string]any{"a": int64(2)}},
		},
	})

	v, err := root.GetPath(Path{"parent", "list", 1, "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = root.GetPath(Path{"parent", "list", 5})
	assert.ErrorIs(t, err, ErrKeyNotFound)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "mem.json", cerr.File)

	_, err = root.GetPath(Path{"parent", "list", "a"})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	assert.Equal(t, "none", root.GetPathOr(Path{"nope"}, "none"))

	require.NoError(t, root.SetPath(Path{"parent", "list", 0, "a"}, 10, false))
	assert.True(t, root.Dirty())
	assert.ErrorIs(t, root.SetPath(Path{"x", "y"}, 1, false), ErrKeyNotFound)
	assert.ErrorIs(t, root.SetPath(Path{"parent", "list", 2}, 1, true), ErrKeyNotFound)

	value := map[string]any{"nested": []any{1, 2}}
	require.NoError(t, root.SetPath(Path{"x", "y"}, value, true))
	value["nested"] = nil

	require.NoError(t, root.Write())
	got, err := root.GetPath(Path{"x", "y", "nested"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, got)
	assert.Equal(t, int64(10), s.data["parent"].(map[string]any)["list"].([]any)[0].(map[string]any)["a"])

	assert.ErrorIs(t, root.SetPath(Path{"x"}, struct{}{}, false), ErrTypeMismatch)
}

func TestRoot_SetPathDropsCachedValues(t *testing.T) {
	root, _ := openMem(t, map[string]any{"a": map[string]any{
		"x":      int64(1),
		"items":  []any{int64(1), int64(2)},
		"limits": map[string]any{"max": int64(5)},
	}})
	require.NoError(t, root.Register("a", NewSchema("a",
		&IntegerField{Base: Base{Name: "x"}},
		&ListField{Base: Base{Name: "items"}, Elem: &IntegerField{}},
		&DictField{Base: Base{Name: "limits"}, Elem: &IntegerField{}},
	), true))

	section, err := root.GetModel("a")
	require.NoError(t, err)
	items, err := section.GetList("items")
	require.NoError(t, err)
	limits, err := section.GetDict("limits")
	require.NoError(t, err)

	// Populate every cache
	x, err := section.GetInt("x")
	require.NoError(t, err)
	require.Equal(t, int64(1), x)
	_, err = items.Get(0)
	require.NoError(t, err)
	_, err = limits.Get("max")
	require.NoError(t, err)

	require.NoError(t, root.SetPath(Path{"a", "x"}, 7, false))
	require.NoError(t, root.SetPath(Path{"a", "items", 0}, 9, false))
	require.NoError(t, root.SetPath(Path{"a", "limits", "max"}, 6, false))

	x, err = section.GetInt("x")
	require.NoError(t, err)
	assert.Equal(t, int64(7), x)
	v, err := items.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)
	v, err = limits.Get("max")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	// Nodes still bound to the tree keep their identity
	again, err := root.GetModel("a")
	require.NoError(t, err)
	assert.Same(t, section, again)

	// Replacing a container drops the node bound to the old one
	require.NoError(t, root.SetPath(Path{"a", "items"}, []any{3}, false))
	fresh, err := section.GetList("items")
	require.NoError(t, err)
	assert.NotSame(t, items, fresh)
	assert.Equal(t, 1, fresh.Len())
}

func TestRoot_SetPathFailureCreatesNothing(t *testing.T) {
	root, s := openMem(t, map[string]any{"list": []any{int64(1)}})

	err := root.SetPath(Path{"a", "b", 3}, 1, true)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	err = root.SetPath(Path{"list", 0, "x"}, 1, true)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.False(t, root.Dirty())
	if diff := cmp.Diff(map[string]any{"list": []any{int64(1)}}, root.Data()); diff != "" {
		t.Errorf("Data() mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, root.SetPath(Path{"a", "b", "c"}, 1, true))
	require.NoError(t, root.Write())
	assert.Equal(t, map[string]any{"b": map[string]any{"c": int64(1)}}, s.data["a"])
}

func TestOpenFile_NonFiniteFloats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	schema := NewSchema("stats",
		&FloatField{Base: Base{Name: "high"}, AllowSpecial: true},
		&FloatField{Base: Base{Name: "low"}, AllowSpecial: true},
		&FloatField{Base: Base{Name: "ratio"}, AllowSpecial: true},
	)

	root, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, root.Register("stats", schema, false))
	stats, err := root.GetModel("stats")
	require.NoError(t, err)
	require.NoError(t, stats.Set("high", math.Inf(1)))
	require.NoError(t, stats.Set("low", math.Inf(-1)))
	require.NoError(t, stats.Set("ratio", math.NaN()))
	require.NoError(t, root.Write())
	assert.False(t, root.Dirty())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Register("stats", schema, false))
	stats, err = reopened.GetModel("stats")
	require.NoError(t, err)

	high, err := stats.GetFloat("high")
	require.NoError(t, err)
	assert.True(t, math.IsInf(high, 1))
	low, err := stats.GetFloat("low")
	require.NoError(t, err)
	assert.True(t, math.IsInf(low, -1))
	ratio, err := stats.GetFloat("ratio")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ratio))
}

func TestOpenFile_JSONWriteBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"guild": {"prefix": "?", "count": 2}}`), 0o644))

	root, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, root.Register("guild", NewSchema("guild",
		&StringField{Base: Base{Name: "prefix"}},
		&IntegerField{Base: Base{Name: "count"}},
	), false))

	guild, err := root.GetModel("guild")
	require.NoError(t, err)
	require.NoError(t, guild.Set("count", 3))
	require.NoError(t, root.Write())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), gjson.GetBytes(data, "guild.count").Int())
	assert.Equal(t, "?", gjson.GetBytes(data, "guild.prefix").String())
}

func TestRoot_Logging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	root, _ := openMem(t, map[string]any{}, WithLogger(logger))
	require.NoError(t, root.Register("a", NewSchema("a", &IntegerField{Base: Base{Name: "x", Default: int64(4)}}), true))
	_, err := Lookup[int64](root.Model, "a", "x")
	require.NoError(t, err)

	var warned bool
	for _, e := range hook.AllEntries() {
		assert.Equal(t, "mem.json", e.Data["file"])
		if e.Level == logrus.WarnLevel && e.Message == "key not found, using default" {
			warned = true
		}
	}
	assert.True(t, warned)
}
