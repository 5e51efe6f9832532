package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// filePerm is the permission used for newly written files.
const filePerm = 0o644

// JSONStrategy reads and writes JSON documents. Writes are atomic.
type JSONStrategy struct {
	fs     FileSystem
	path   string
	indent string
}

// NewJSON creates a JSON strategy for the given path.
func NewJSON(path string) *JSONStrategy {
	return NewJSONWithFS(DefaultFS(), path)
}

// NewJSONWithFS creates a JSON strategy with a custom file system.
func NewJSONWithFS(fs FileSystem, path string) *JSONStrategy {
	return &JSONStrategy{
		fs:     fs,
		path:   path,
		indent: "  ",
	}
}

// Filename returns the JSON file path.
func (s *JSONStrategy) Filename() string {
	return s.path
}

// ReadOnly reports false.
func (s *JSONStrategy) ReadOnly() bool {
	return false
}

// Read parses the file. Integral numbers decode as int64, others as float64.
// The Infinity, -Infinity and NaN tokens decode as non-finite floats.
func (s *JSONStrategy) Read() (map[string]any, error) {
	data, err := readFile(s.fs, s.path)
	if err != nil {
		return nil, err
	}
	return decodeJSON(s.path, data)
}

// Write encodes data and atomically replaces the file.
func (s *JSONStrategy) Write(data map[string]any) error {
	out, err := encodeJSON(data, s.indent)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}
	if err := s.fs.WriteFile(s.path, out, filePerm); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

func decodeJSON(source string, data []byte) (map[string]any, error) {
	data, marker := quoteNonFinite(data)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return make(map[string]any), nil
		}
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		if serr, ok := err.(*json.SyntaxError); ok {
			perr.Message = fmt.Sprintf("%s (offset %d)", serr.Error(), serr.Offset)
		}
		return nil, perr
	}

	normalized, err := Normalize(doc)
	if err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	if marker != "" {
		normalized = unmarkNonFinite(normalized, marker)
	}
	return rootMap(source, normalized)
}

func encodeJSON(data map[string]any, indent string) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	var marker string
	if hasNonFinite(data) {
		marker = uuid.NewString() + ":"
		data = markNonFinite(data, marker).(map[string]any)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	if marker != "" {
		return unquoteNonFinite(buf.Bytes(), marker), nil
	}
	return buf.Bytes(), nil
}
