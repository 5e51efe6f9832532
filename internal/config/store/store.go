// Package store provides the file store strategies for configuration trees.
//
// A Strategy reads and writes a hierarchical primitive tree (objects,
// arrays, strings, numbers, booleans and null) from and to a single named
// file. Strategies have no knowledge of schemas; the config package builds
// typed views on top of the trees they return.
//
// Every tree returned by Read is normalised so that it only contains the
// primitive set: nil, bool, string, int64, float64, []any and map[string]any.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrReadOnly is returned by Write on strategies that only support reading.
var ErrReadOnly = errors.New("store is read-only")

// Strategy reads and writes a configuration tree from a named file.
type Strategy interface {
	// Filename returns the file this strategy reads and writes.
	Filename() string
	// Read loads and normalises the tree. A missing file is reported with an
	// error matching fs.ErrNotExist.
	Read() (map[string]any, error)
	// Write replaces the file contents with data. A failed write must leave
	// the previous file intact.
	Write(data map[string]any) error
	// ReadOnly reports whether Write is unsupported.
	ReadOnly() bool
}

// FileSystem is an abstraction for file system operations.
// This allows for easy testing with in-memory file systems.
type FileSystem interface {
	fs.FS
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
	// WriteFile atomically replaces the file at path.
	WriteFile(path string, data []byte, perm fs.FileMode) error
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// Open implements fs.FS.
func (OSFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// WriteFile writes data to a uniquely named temporary file in the same
// directory, syncs it and renames it over path.
func (OSFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tempPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		// Clean up temp file on failure
		os.Remove(tempPath)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// ParseError represents an error while parsing a configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ForFile picks a strategy from the file extension: .json and .yaml/.yml
// are read-write, .toml is read-only and .db/.bolt use a bolt database.
func ForFile(path string) (Strategy, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJSON(path), nil
	case ".yaml", ".yml":
		return NewYAML(path), nil
	case ".toml":
		return NewTOML(path), nil
	case ".db", ".bolt":
		return NewBolt(path), nil
	default:
		return nil, fmt.Errorf("no store strategy for %q", path)
	}
}

// readFile reads path from fsys, wrapping errors with the path.
func readFile(fsys FileSystem, path string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return data, nil
}

// rootMap checks that a normalised document is an object.
func rootMap(path string, v any) (map[string]any, error) {
	if v == nil {
		return make(map[string]any), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("root must be an object, got %T", v)}
	}
	return m, nil
}
