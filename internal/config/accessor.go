package config

import (
	"errors"
	"fmt"
	"time"
)

// As asserts the result of a Get call to T. A nil value (an optional key
// with no default) yields the zero T.
//
//	limit, err := config.As[int64](m.Get("limit"))
func As[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, &Error{Kind: ErrTypeMismatch, Value: v, Err: typeError("", v, fmt.Sprintf("%T", zero))}
	}
	return t, nil
}

// Must panics if err is not nil. It is meant for values validated at load
// time by eager fields.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// Lookup traverses keys from m and asserts the final value to T.
func Lookup[T any](m *Model, keys ...string) (T, error) {
	v, err := As[T](m.Traverse(keys...))
	if err != nil {
		return v, m.locate(Path{}, keys, err)
	}
	return v, nil
}

// GetString returns the string value at key.
func (m *Model) GetString(key string) (string, error) {
	return get[string](m, key)
}

// GetInt returns the integer value at key.
func (m *Model) GetInt(key string) (int64, error) {
	return get[int64](m, key)
}

// GetFloat returns the float value at key. Integer values are widened.
func (m *Model) GetFloat(key string) (float64, error) {
	if i, err := get[int64](m, key); err == nil {
		return float64(i), nil
	}
	return get[float64](m, key)
}

// GetBool returns the boolean value at key.
func (m *Model) GetBool(key string) (bool, error) {
	return get[bool](m, key)
}

// GetTime returns the value of a timestamp or datetime field at key.
func (m *Model) GetTime(key string) (time.Time, error) {
	return get[time.Time](m, key)
}

// GetModel returns the nested model at key.
func (m *Model) GetModel(key string) (*Model, error) {
	return get[*Model](m, key)
}

// GetList returns the list at key.
func (m *Model) GetList(key string) (*List, error) {
	return get[*List](m, key)
}

// GetDict returns the dict at key.
func (m *Model) GetDict(key string) (*Dict, error) {
	return get[*Dict](m, key)
}

func get[T any](m *Model, key string) (T, error) {
	v, err := As[T](m.Get(key))
	if err != nil {
		return v, m.locate(Path{key}, nil, err)
	}
	return v, nil
}

// locate fills in the location of type errors raised by As.
func (m *Model) locate(p Path, keys []string, err error) error {
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != ErrTypeMismatch || cerr.File != "" || cerr.Path != nil {
		return err
	}
	for _, k := range keys {
		p = append(p, k)
	}
	if len(p) > 0 {
		cerr.Key = p[len(p)-1]
		p = p[:len(p)-1]
	}
	cerr.File = m.File()
	cerr.Path = append(m.Path(), p...)
	return err
}
