package config

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by configuration operations. Every error produced by this
// package matches exactly one of these with errors.Is; ErrConversion errors
// additionally match the kind of their cause.
var (
	// ErrKeyNotFound indicates a key or path is absent and no default applies.
	ErrKeyNotFound = errors.New("configuration key not found")

	// ErrNameInvalid indicates a key starting with a reserved prefix.
	ErrNameInvalid = errors.New("invalid configuration key name")

	// ErrReadOnly indicates a write was attempted on a read-only configuration.
	ErrReadOnly = errors.New("configuration is read-only")

	// ErrConversion indicates a field failed to convert or serialize a value.
	ErrConversion = errors.New("configuration conversion failed")

	// ErrRange indicates a value or container is outside its allowed bounds.
	ErrRange = errors.New("value out of range")

	// ErrTypeMismatch indicates a value is not of an acceptable type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidValue indicates a value of the right type failed validation.
	ErrInvalidValue = errors.New("invalid value")
)

// reservedPrefixes are key prefixes that may never be used as model keys.
var reservedPrefixes = []string{"_", "cfg_"}

// IsReservedKey reports whether key starts with a reserved prefix.
func IsReservedKey(key string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Error describes a failure at a specific location of a configuration file.
type Error struct {
	// Kind is one of the package sentinel errors.
	Kind error
	// File is the configuration file name, empty for unattached nodes.
	File string
	// Path locates the node the key belongs to.
	Path Path
	// Key is the key or index involved, if any.
	Key any
	// Value is the offending raw or converted value, if any.
	Value any
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	b.WriteString(": ")
	b.WriteString(e.location())
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) location() string {
	file := e.File
	if file == "" {
		file = "(no file)"
	}
	p := e.Path
	if e.Key != nil {
		p = p.Append(e.Key)
	}
	if len(p) == 0 {
		return file
	}
	return file + ":" + p.String()
}

// Unwrap returns both the kind and the cause so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ValueError is returned by fields when a value fails conversion or
// validation. Err is one of ErrRange, ErrTypeMismatch or ErrInvalidValue.
type ValueError struct {
	// Field is the name of the field, if known.
	Field string
	// Value is the rejected value.
	Value any
	// Message describes the failure.
	Message string
	// Err categorizes the failure.
	Err error
}

// Error implements the error interface.
func (e *ValueError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s (value: %v)", e.Message, e.Value)
}

// Unwrap returns the error category.
func (e *ValueError) Unwrap() error {
	return e.Err
}

func rangeError(name string, value any, format string, args ...any) error {
	return &ValueError{Field: name, Value: value, Message: fmt.Sprintf(format, args...), Err: ErrRange}
}

func typeError(name string, value any, expected string) error {
	return &ValueError{
		Field:   name,
		Value:   value,
		Message: fmt.Sprintf("expected %s, got %T", expected, value),
		Err:     ErrTypeMismatch,
	}
}

func invalidError(name string, value any, message string) error {
	return &ValueError{Field: name, Value: value, Message: message, Err: ErrInvalidValue}
}
