package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLStrategy reads and writes YAML documents. Writes are atomic.
type YAMLStrategy struct {
	fs   FileSystem
	path string
}

// NewYAML creates a YAML strategy for the given path.
func NewYAML(path string) *YAMLStrategy {
	return NewYAMLWithFS(DefaultFS(), path)
}

// NewYAMLWithFS creates a YAML strategy with a custom file system.
func NewYAMLWithFS(fs FileSystem, path string) *YAMLStrategy {
	return &YAMLStrategy{fs: fs, path: path}
}

// Filename returns the YAML file path.
func (s *YAMLStrategy) Filename() string {
	return s.path
}

// ReadOnly reports false.
func (s *YAMLStrategy) ReadOnly() bool {
	return false
}

// Read parses the first document of the file.
func (s *YAMLStrategy) Read() (map[string]any, error) {
	data, err := readFile(s.fs, s.path)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return make(map[string]any), nil
		}
		perr := &ParseError{Path: s.path, Message: err.Error(), Err: err}
		var terr *yaml.TypeError
		if errors.As(err, &terr) && len(terr.Errors) > 0 {
			perr.Message = terr.Errors[0]
		}
		return nil, perr
	}

	normalized, err := Normalize(doc)
	if err != nil {
		return nil, &ParseError{Path: s.path, Message: err.Error(), Err: err}
	}
	return rootMap(s.path, normalized)
}

// Write encodes data with two-space indentation and atomically replaces the
// file.
func (s *YAMLStrategy) Write(data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}
	if err := s.fs.WriteFile(s.path, buf.Bytes(), filePerm); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}
