package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// MemFS is an in-memory file system for testing.
type MemFS struct {
	files  map[string][]byte
	writes int
	fail   error
}

func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

func (m *MemFS) AddFile(path string, content string) {
	m.files[path] = []byte(content)
}

func (m *MemFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (m *MemFS) ReadFile(path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) Stat(path string) (fs.FileInfo, error) {
	if _, ok := m.files[path]; ok {
		return &memFileInfo{name: path}, nil
	}
	return nil, fs.ErrNotExist
}

func (m *MemFS) WriteFile(path string, data []byte, _ fs.FileMode) error {
	if m.fail != nil {
		return m.fail
	}
	m.writes++
	m.files[path] = append([]byte(nil), data...)
	return nil
}

type memFileInfo struct {
	name string
}

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return 0 }
func (f *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (f *memFileInfo) ModTime() time.Time { return time.Now() }
func (f *memFileInfo) IsDir() bool        { return false }
func (f *memFileInfo) Sys() any           { return nil }

func TestJSONStrategy_Read(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/state.json", `{
		"count": 3,
		"ratio": 0.5,
		"big": 1e3,
		"name": "bot",
		"tags": ["a", 1, null, true],
		"nested": {"x": -7}
	}`)

	data, err := NewJSONWithFS(memfs, "/state.json").Read()
	require.NoError(t, err)

	want := map[string]any{
		"count":  int64(3),
		"ratio":  0.5,
		"big":    float64(1000),
		"name":   "bot",
		"tags":   []any{"a", int64(1), nil, true},
		"nested": map[string]any{"x": int64(-7)},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, IsPrimitive(data))
}

func TestJSONStrategy_ReadMissing(t *testing.T) {
	_, err := NewJSONWithFS(NewMemFS(), "/missing.json").Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestJSONStrategy_ReadEmpty(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/empty.json", "")

	data, err := NewJSONWithFS(memfs, "/empty.json").Read()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestJSONStrategy_ReadInvalid(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bad.json", `{"a": `)
	memfs.AddFile("/array.json", `[1, 2]`)

	_, err := NewJSONWithFS(memfs, "/bad.json").Read()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/bad.json", perr.Path)

	_, err = NewJSONWithFS(memfs, "/array.json").Read()
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Message, "root must be an object")
}

func TestJSONStrategy_Write(t *testing.T) {
	memfs := NewMemFS()
	s := NewJSONWithFS(memfs, "/state.json")

	err := s.Write(map[string]any{
		"guild": map[string]any{"prefix": "!", "limit": int64(5)},
		"html":  "<b>",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, memfs.writes)

	out := memfs.files["/state.json"]
	assert.True(t, json.Valid(out))
	assert.Equal(t, "!", gjson.GetBytes(out, "guild.prefix").String())
	assert.Equal(t, int64(5), gjson.GetBytes(out, "guild.limit").Int())
	// HTML is not escaped
	assert.Contains(t, string(out), "<b>")

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(5), data["guild"].(map[string]any)["limit"])
}

func TestJSONStrategy_NonFinite(t *testing.T) {
	memfs := NewMemFS()
	s := NewJSONWithFS(memfs, "/state.json")

	tree := map[string]any{
		"ratio":  math.Inf(1),
		"floor":  math.Inf(-1),
		"scores": []any{1.5, math.NaN()},
		"labels": []any{"NaN", "Infinity", "-Infinity"},
	}
	require.NoError(t, s.Write(tree))

	out := string(memfs.files["/state.json"])
	assert.Contains(t, out, `"ratio": Infinity`)
	assert.Contains(t, out, `"floor": -Infinity`)
	assert.Contains(t, out, "NaN\n")
	assert.Contains(t, out, `"NaN",`)
	// The written tree is left untouched
	assert.True(t, math.IsNaN(tree["scores"].([]any)[1].(float64)))

	got, err := s.Read()
	require.NoError(t, err)
	if diff := cmp.Diff(tree, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONStrategy_ReadNonFiniteTokens(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/state.json", `{"a": [NaN, -Infinity], "b": "say \"NaN\"", "c": Infinity}`)

	got, err := NewJSONWithFS(memfs, "/state.json").Read()
	require.NoError(t, err)
	a := got["a"].([]any)
	assert.True(t, math.IsNaN(a[0].(float64)))
	assert.True(t, math.IsInf(a[1].(float64), -1))
	assert.Equal(t, `say "NaN"`, got["b"])
	assert.True(t, math.IsInf(got["c"].(float64), 1))
}

func TestJSONStrategy_WriteFailureKeepsFile(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/state.json", `{"a": 1}`)
	memfs.fail = errors.New("disk full")

	err := NewJSONWithFS(memfs, "/state.json").Write(map[string]any{"a": int64(2)})
	require.Error(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(memfs.files["/state.json"]))
}

func TestOSFS_WriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "state.json")

	s := NewJSON(path)
	require.NoError(t, s.Write(map[string]any{"a": int64(1)}))
	require.NoError(t, s.Write(map[string]any{"a": int64(2)}))

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(2), data["a"])

	// No temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestYAMLStrategy_RoundTrip(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/bot.yaml", `
prefix: "!"
limits:
  warn: 3
  ratio: 0.25
owners:
  - 1234
  - alice
flags:
  1: one
`)

	s := NewYAMLWithFS(memfs, "/bot.yaml")
	data, err := s.Read()
	require.NoError(t, err)

	want := map[string]any{
		"prefix": "!",
		"limits": map[string]any{"warn": int64(3), "ratio": 0.25},
		"owners": []any{int64(1234), "alice"},
		"flags":  map[string]any{"1": "one"},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	data["prefix"] = "?"
	require.NoError(t, s.Write(data))

	again, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "?", again["prefix"])
	assert.Equal(t, 1, memfs.writes)
}

func TestTOMLStrategy_Read(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/config.toml", `
token = "abc"
started = 2021-06-01T12:30:00Z
birthday = 2020-02-29

[bot]
prefix = "!"
shards = 2
ratio = 1.5
`)

	s := NewTOMLWithFS(memfs, "/config.toml")
	assert.True(t, s.ReadOnly())

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, "abc", data["token"])
	assert.Equal(t, "2021-06-01T12:30:00Z", data["started"])
	assert.Equal(t, "2020-02-29", data["birthday"])

	bot := data["bot"].(map[string]any)
	assert.Equal(t, int64(2), bot["shards"])
	assert.Equal(t, 1.5, bot["ratio"])
	assert.True(t, IsPrimitive(data))
}

func TestTOMLStrategy_WriteIsReadOnly(t *testing.T) {
	err := NewTOMLWithFS(NewMemFS(), "/config.toml").Write(map[string]any{})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestTOMLStrategy_ReadInvalid(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/invalid.toml", `
[bot
prefix = "!"
`)

	_, err := NewTOMLWithFS(memfs, "/invalid.toml").Read()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/invalid.toml", perr.Path)
	assert.Greater(t, perr.Line, 0)
}

func TestTOMLStrategy_Includes(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/etc/base.toml", `
[bot]
prefix = "?"
shards = 1
`)
	memfs.AddFile("/etc/config.toml", `
"@include" = "base.toml"

[bot]
prefix = "!"
`)

	data, err := NewTOMLWithFS(memfs, "/etc/config.toml").Read()
	require.NoError(t, err)
	assert.NotContains(t, data, "@include")

	bot := data["bot"].(map[string]any)
	assert.Equal(t, "!", bot["prefix"])
	assert.Equal(t, int64(1), bot["shards"])
}

func TestTOMLStrategy_IncludeCycle(t *testing.T) {
	memfs := NewMemFS()
	memfs.AddFile("/a.toml", `"@include" = "b.toml"`)
	memfs.AddFile("/b.toml", `"@include" = "a.toml"`)

	_, err := NewTOMLWithFS(memfs, "/a.toml").Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include depth exceeded")
}

func TestBoltStrategy_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s := NewBolt(path)

	_, err := s.Read()
	require.ErrorIs(t, err, fs.ErrNotExist)

	tree := map[string]any{
		"guilds": map[string]any{
			"42": map[string]any{"prefix": "!", "warn": int64(3)},
		},
		"ratio": 0.75,
		"cap":   math.Inf(1),
	}
	require.NoError(t, s.Write(tree))

	got, err := s.Read()
	require.NoError(t, err)
	if diff := cmp.Diff(tree, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}

	// A different bucket in the same file starts empty
	other, err := NewBoltBucket(path, "other").Read()
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestForFile(t *testing.T) {
	tests := []struct {
		path string
		want Strategy
	}{
		{"a.json", &JSONStrategy{}},
		{"a.YAML", &YAMLStrategy{}},
		{"a.yml", &YAMLStrategy{}},
		{"a.toml", &TOMLStrategy{}},
		{"a.db", &BoltStrategy{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s, err := ForFile(tt.path)
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
			assert.Equal(t, tt.path, s.Filename())
		})
	}

	_, err := ForFile("a.ini")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(map[any]any{
		"a": 1,
		2:   []any{uint8(3), float32(0.5), json.Number("10"), json.Number("2.5")},
		"t": time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		"u": uint64(math.MaxUint64),
	})
	require.NoError(t, err)

	want := map[string]any{
		"a": int64(1),
		"2": []any{int64(3), 0.5, int64(10), 2.5},
		"t": "2020-01-02T03:04:05Z",
		"u": float64(math.MaxUint64),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}

	_, err = Normalize(struct{}{})
	assert.Error(t, err)
}

func TestIsPrimitive(t *testing.T) {
	assert.True(t, IsPrimitive(nil))
	assert.True(t, IsPrimitive(map[string]any{"a": []any{int64(1), "x", 1.5, false}}))
	assert.False(t, IsPrimitive(1))
	assert.False(t, IsPrimitive([]any{time.Now()}))
	assert.False(t, IsPrimitive(map[string]any{"a": []string{"x"}}))
}

func TestClone(t *testing.T) {
	src := map[string]any{
		"a": map[string]any{"b": []any{int64(1), map[string]any{"c": "d"}}},
	}
	dst := Clone(src)
	require.Equal(t, src, dst)

	dst["a"].(map[string]any)["b"].([]any)[1].(map[string]any)["c"] = "changed"
	assert.Equal(t, "d", src["a"].(map[string]any)["b"].([]any)[1].(map[string]any)["c"])
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": int64(1), "y": int64(2)}, "b": "keep"}
	src := map[string]any{"a": map[string]any{"y": int64(3)}, "c": true}

	got := DeepMerge(dst, src)
	want := map[string]any{
		"a": map[string]any{"x": int64(1), "y": int64(3)},
		"b": "keep",
		"c": true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DeepMerge() mismatch (-want +got):\n%s", diff)
	}
}
