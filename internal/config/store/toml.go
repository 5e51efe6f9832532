package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// includeKey names the top-level key listing files merged beneath a TOML
// document.
const includeKey = "@include"

// maxIncludeDepth limits nested includes.
const maxIncludeDepth = 8

// TOMLStrategy reads operator-authored TOML files. It never writes.
//
// A document may list other TOML files under the "@include" key; they are
// loaded first and the including document's values override theirs.
type TOMLStrategy struct {
	fs   FileSystem
	path string
}

// NewTOML creates a TOML strategy for the given path.
func NewTOML(path string) *TOMLStrategy {
	return &TOMLStrategy{
		fs:   DefaultFS(),
		path: path,
	}
}

// NewTOMLWithFS creates a TOML strategy with a custom file system.
func NewTOMLWithFS(fs FileSystem, path string) *TOMLStrategy {
	return &TOMLStrategy{
		fs:   fs,
		path: path,
	}
}

// Filename returns the TOML file path.
func (s *TOMLStrategy) Filename() string {
	return s.path
}

// ReadOnly always reports true.
func (s *TOMLStrategy) ReadOnly() bool {
	return true
}

// Write always fails with ErrReadOnly.
func (s *TOMLStrategy) Write(map[string]any) error {
	return fmt.Errorf("writing %s: %w", s.path, ErrReadOnly)
}

// Read parses the file and its includes. Date and time values are
// returned as RFC 3339 text.
func (s *TOMLStrategy) Read() (map[string]any, error) {
	return s.load(s.path, maxIncludeDepth)
}

func (s *TOMLStrategy) load(path string, depth int) (map[string]any, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("include depth exceeded for %s", path)
	}

	data, err := readFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	config, err := parseTOML(path, data)
	if err != nil {
		return nil, err
	}

	includes, hasIncludes := config[includeKey]
	if !hasIncludes {
		return config, nil
	}
	delete(config, includeKey)

	var includeList []string
	switch v := includes.(type) {
	case string:
		includeList = []string{v}
	case []any:
		for _, item := range v {
			inc, ok := item.(string)
			if !ok {
				return nil, &ParseError{Path: path, Message: includeKey + " must be string or array of strings"}
			}
			includeList = append(includeList, inc)
		}
	default:
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("%s must be string or array of strings, got %T", includeKey, includes)}
	}

	// Includes are lower priority than the including file
	baseDir := filepath.Dir(path)
	merged := make(map[string]any)
	for _, inc := range includeList {
		incPath := inc
		if !filepath.IsAbs(inc) {
			incPath = filepath.Join(baseDir, inc)
		}

		incConfig, err := s.load(incPath, depth-1)
		if err != nil {
			return nil, fmt.Errorf("loading include %s: %w", incPath, err)
		}
		merged = DeepMerge(merged, incConfig)
	}

	return DeepMerge(merged, config), nil
}

// parseTOML decodes and normalises a TOML document.
func parseTOML(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{
			Path:    source,
			Message: err.Error(),
			Err:     err,
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}

	normalized, err := Normalize(config)
	if err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	return rootMap(source, normalized)
}
