package config

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dshills/confmodel/internal/config/store"
)

// Kind identifies a field type for runtime attribute lookup.
type Kind string

// Field kinds. A field's Kinds chain lists its kind and the kinds it
// specializes, most specific first, always ending with KindAny.
const (
	KindAny                Kind = "any"
	KindPrimitive          Kind = "primitive"
	KindString             Kind = "string"
	KindInteger            Kind = "integer"
	KindConstrainedInteger Kind = "constrained_integer"
	KindFloat              Kind = "float"
	KindConstrainedFloat   Kind = "constrained_float"
	KindBoolean            Kind = "boolean"
	KindTimestamp          Kind = "timestamp"
	KindDatetime           Kind = "datetime"
	KindLogLevel           Kind = "log_level"
	KindList               Kind = "list"
	KindDict               Kind = "dict"
	KindModel              Kind = "model"
)

// Attributes holds runtime values injected into field conversions, such as
// a handle to an external service.
type Attributes map[string]any

// Base holds the declaration shared by every field.
type Base struct {
	// Name is the key the field reads and writes.
	Name string
	// Default is the raw value used when the key is missing. Containers
	// receive a deep copy.
	Default any
	// Required makes a missing key an error when no default is set.
	Required bool
	// Eager converts (and so validates) the field as soon as raw data is
	// bound to its model instead of on first access.
	Eager bool
}

// Spec returns the field declaration.
func (b *Base) Spec() *Base {
	return b
}

// Field converts between one raw primitive and its runtime value.
//
// Convert and Serialize must not modify their input. The attributes passed
// are the runtime attributes resolved for the field's kinds at the node
// performing the conversion; they may be nil.
type Field interface {
	Spec() *Base
	Kinds() []Kind
	Convert(rt Attributes, raw any) (any, error)
	Serialize(rt Attributes, value any) (any, error)
}

// PrimitiveField passes raw values through unchanged.
type PrimitiveField struct {
	Base
}

// Primitive returns a PrimitiveField for name.
func Primitive(name string) *PrimitiveField {
	return &PrimitiveField{Base: Base{Name: name}}
}

func (f *PrimitiveField) Kinds() []Kind { return []Kind{KindPrimitive, KindAny} }

func (f *PrimitiveField) Convert(_ Attributes, raw any) (any, error) {
	return raw, nil
}

// Serialize accepts any value of the primitive set. Plain Go integers are
// widened to int64.
func (f *PrimitiveField) Serialize(_ Attributes, value any) (any, error) {
	if i, ok := intValue(value); ok {
		return i, nil
	}
	if !store.IsPrimitive(value) {
		return nil, typeError(f.Name, value, "a configuration primitive")
	}
	return value, nil
}

// StringField holds a string with optional length and pattern constraints.
// Lengths count runes.
type StringField struct {
	Base
	MinLen      *int
	MaxLen      *int
	Pattern     *regexp.Regexp
	PatternHelp string
}

func (f *StringField) Kinds() []Kind { return []Kind{KindString, KindPrimitive, KindAny} }

func (f *StringField) Convert(_ Attributes, raw any) (any, error) {
	return f.check(raw)
}

func (f *StringField) Serialize(_ Attributes, value any) (any, error) {
	return f.check(value)
}

func (f *StringField) check(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", typeError(f.Name, v, "string")
	}
	n := utf8.RuneCountInString(s)
	if f.MinLen != nil && n < *f.MinLen {
		return "", rangeError(f.Name, s, "length %d is less than %d", n, *f.MinLen)
	}
	if f.MaxLen != nil && n > *f.MaxLen {
		return "", rangeError(f.Name, s, "length %d is greater than %d", n, *f.MaxLen)
	}
	if f.Pattern != nil && !f.Pattern.MatchString(s) {
		msg := f.PatternHelp
		if msg == "" {
			msg = fmt.Sprintf("does not match pattern %q", f.Pattern.String())
		}
		return "", invalidError(f.Name, s, msg)
	}
	return s, nil
}

// IntegerField holds an int64. Values outside [Min, Max] are rejected.
type IntegerField struct {
	Base
	Min *int64
	Max *int64
}

func (f *IntegerField) Kinds() []Kind { return []Kind{KindInteger, KindPrimitive, KindAny} }

func (f *IntegerField) Convert(_ Attributes, raw any) (any, error) {
	i, err := toInteger(f.Name, raw)
	if err != nil {
		return nil, err
	}
	return f.checkRange(i)
}

func (f *IntegerField) Serialize(_ Attributes, value any) (any, error) {
	i, err := toInteger(f.Name, value)
	if err != nil {
		return nil, err
	}
	return f.checkRange(i)
}

func (f *IntegerField) checkRange(i int64) (int64, error) {
	if f.Min != nil && i < *f.Min {
		return 0, rangeError(f.Name, i, "%d is less than minimum %d", i, *f.Min)
	}
	if f.Max != nil && i > *f.Max {
		return 0, rangeError(f.Name, i, "%d is greater than maximum %d", i, *f.Max)
	}
	return i, nil
}

// ConstrainedIntegerField holds an int64, clamping values outside
// [Min, Max] to the nearest bound.
type ConstrainedIntegerField struct {
	IntegerField
}

func (f *ConstrainedIntegerField) Kinds() []Kind {
	return []Kind{KindConstrainedInteger, KindInteger, KindPrimitive, KindAny}
}

func (f *ConstrainedIntegerField) Convert(_ Attributes, raw any) (any, error) {
	i, err := toInteger(f.Name, raw)
	if err != nil {
		return nil, err
	}
	return f.clamp("read", i), nil
}

func (f *ConstrainedIntegerField) Serialize(_ Attributes, value any) (any, error) {
	i, err := toInteger(f.Name, value)
	if err != nil {
		return nil, err
	}
	return f.clamp("serialize", i), nil
}

func (f *ConstrainedIntegerField) clamp(op string, i int64) int64 {
	c := i
	if f.Min != nil && c < *f.Min {
		c = *f.Min
	}
	if f.Max != nil && c > *f.Max {
		c = *f.Max
	}
	if c != i {
		log.WithFields(logrus.Fields{"field": f.Name, "value": i, "constrained": c}).
			Warnf("%s value constrained", op)
	}
	return c
}

// FloatField holds a float64. Values outside [Min, Max] are rejected, and
// NaN and infinities are rejected unless AllowSpecial is set.
type FloatField struct {
	Base
	Min          *float64
	Max          *float64
	AllowSpecial bool
}

func (f *FloatField) Kinds() []Kind { return []Kind{KindFloat, KindPrimitive, KindAny} }

func (f *FloatField) Convert(_ Attributes, raw any) (any, error) {
	v, err := f.toFloat(raw)
	if err != nil {
		return nil, err
	}
	return f.checkRange(v)
}

func (f *FloatField) Serialize(_ Attributes, value any) (any, error) {
	v, err := f.toFloat(value)
	if err != nil {
		return nil, err
	}
	return f.checkRange(v)
}

func (f *FloatField) toFloat(v any) (float64, error) {
	x, err := toFloat(f.Name, v)
	if err != nil {
		return 0, err
	}
	if !f.AllowSpecial && (math.IsNaN(x) || math.IsInf(x, 0)) {
		return 0, invalidError(f.Name, x, "infinities and NaN not allowed")
	}
	return x, nil
}

func (f *FloatField) checkRange(x float64) (float64, error) {
	if f.Min != nil && x < *f.Min {
		return 0, rangeError(f.Name, x, "%g is less than minimum %g", x, *f.Min)
	}
	if f.Max != nil && x > *f.Max {
		return 0, rangeError(f.Name, x, "%g is greater than maximum %g", x, *f.Max)
	}
	return x, nil
}

// ConstrainedFloatField holds a float64, clamping values outside
// [Min, Max] to the nearest bound.
type ConstrainedFloatField struct {
	FloatField
}

func (f *ConstrainedFloatField) Kinds() []Kind {
	return []Kind{KindConstrainedFloat, KindFloat, KindPrimitive, KindAny}
}

func (f *ConstrainedFloatField) Convert(_ Attributes, raw any) (any, error) {
	x, err := f.toFloat(raw)
	if err != nil {
		return nil, err
	}
	return f.clamp("read", x), nil
}

func (f *ConstrainedFloatField) Serialize(_ Attributes, value any) (any, error) {
	x, err := f.toFloat(value)
	if err != nil {
		return nil, err
	}
	return f.clamp("serialize", x), nil
}

func (f *ConstrainedFloatField) clamp(op string, x float64) float64 {
	c := x
	if f.Min != nil && c < *f.Min {
		c = *f.Min
	}
	if f.Max != nil && c > *f.Max {
		c = *f.Max
	}
	if c != x && !math.IsNaN(x) {
		log.WithFields(logrus.Fields{"field": f.Name, "value": x, "constrained": c}).
			Warnf("%s value constrained", op)
	}
	return c
}

var (
	falseWords = []string{"0", "off", "no", "disabled", "false"}
	trueWords  = []string{"1", "on", "yes", "enabled", "true"}
)

// BooleanField holds a bool. Strings must be one of the known boolean
// words (case-insensitive); other values convert by truthiness.
type BooleanField struct {
	Base
}

func (f *BooleanField) Kinds() []Kind { return []Kind{KindBoolean, KindPrimitive, KindAny} }

func (f *BooleanField) Convert(_ Attributes, raw any) (any, error) {
	return f.toBool(raw)
}

func (f *BooleanField) Serialize(_ Attributes, value any) (any, error) {
	return f.toBool(value)
}

func (f *BooleanField) toBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		word := strings.ToLower(strings.TrimSpace(val))
		for _, w := range falseWords {
			if word == w {
				return false, nil
			}
		}
		for _, w := range trueWords {
			if word == w {
				return true, nil
			}
		}
		return false, invalidError(f.Name, val, "not a known boolean word")
	case nil:
		return false, nil
	case []any:
		return len(val) > 0, nil
	case map[string]any:
		return len(val) > 0, nil
	case float64:
		return val != 0, nil
	case float32:
		return val != 0, nil
	}
	if i, ok := intValue(v); ok {
		return i != 0, nil
	}
	return false, typeError(f.Name, v, "boolean")
}

// TimestampField holds a time.Time stored as epoch seconds. Converted
// values are in UTC with microsecond resolution.
type TimestampField struct {
	Base
}

func (f *TimestampField) Kinds() []Kind { return []Kind{KindTimestamp, KindAny} }

func (f *TimestampField) Convert(_ Attributes, raw any) (any, error) {
	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case float32:
		secs = float64(v)
	default:
		i, ok := intValue(raw)
		if !ok {
			return nil, typeError(f.Name, raw, "epoch seconds")
		}
		return time.Unix(i, 0).UTC(), nil
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return nil, invalidError(f.Name, secs, "not a finite timestamp")
	}
	whole := math.Floor(secs)
	usec := math.Round((secs - whole) * 1e6)
	if usec >= 1e6 {
		whole++
		usec = 0
	}
	return time.Unix(int64(whole), int64(usec)*int64(time.Microsecond)).UTC(), nil
}

func (f *TimestampField) Serialize(_ Attributes, value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, typeError(f.Name, value, "time.Time")
	}
	return float64(t.Unix()) + float64(t.Nanosecond()/int(time.Microsecond))/1e6, nil
}

// datetimeLayouts are tried in order. Layouts without a zone parse as UTC.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	time.DateOnly,
}

// DatetimeField holds a time.Time stored as RFC 3339 text. A date without
// a time means midnight UTC and a time without an offset is UTC.
type DatetimeField struct {
	Base
}

func (f *DatetimeField) Kinds() []Kind { return []Kind{KindDatetime, KindAny} }

func (f *DatetimeField) Convert(_ Attributes, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, typeError(f.Name, raw, "datetime string")
	}
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, invalidError(f.Name, s, "not an RFC 3339 datetime")
}

func (f *DatetimeField) Serialize(_ Attributes, value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, typeError(f.Name, value, "time.Time")
	}
	return t.Format(time.RFC3339Nano), nil
}

// LogLevelField holds a logrus.Level stored as a level name such as
// "INFO" or "WARNING". CRITICAL is read as the fatal level. Numeric levels
// 10 through 50 are accepted.
type LogLevelField struct {
	Base
}

func (f *LogLevelField) Kinds() []Kind { return []Kind{KindLogLevel, KindAny} }

var numericLevels = map[int64]logrus.Level{
	10: logrus.DebugLevel,
	20: logrus.InfoLevel,
	30: logrus.WarnLevel,
	40: logrus.ErrorLevel,
	50: logrus.FatalLevel,
}

func (f *LogLevelField) Convert(_ Attributes, raw any) (any, error) {
	if i, ok := intValue(raw); ok {
		lvl, ok := numericLevels[i]
		if !ok {
			return nil, invalidError(f.Name, raw, "unknown numeric log level")
		}
		return lvl, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, typeError(f.Name, raw, "log level name")
	}
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "critical" {
		return logrus.FatalLevel, nil
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return nil, invalidError(f.Name, s, err.Error())
	}
	return lvl, nil
}

func (f *LogLevelField) Serialize(_ Attributes, value any) (any, error) {
	lvl, ok := value.(logrus.Level)
	if !ok {
		return nil, typeError(f.Name, value, "logrus.Level")
	}
	switch lvl {
	case logrus.FatalLevel:
		return "CRITICAL", nil
	case logrus.WarnLevel:
		return "WARNING", nil
	}
	name, err := lvl.MarshalText()
	if err != nil {
		return nil, invalidError(f.Name, value, err.Error())
	}
	return strings.ToUpper(string(name)), nil
}

// intValue widens Go integer kinds to int64.
func intValue(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int16:
		return int64(val), true
	case int8:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint:
		if uint64(val) <= math.MaxInt64 {
			return int64(val), true
		}
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	}
	return 0, false
}

// toInteger accepts integers, finite floats (truncated) and decimal
// integer strings.
func toInteger(name string, v any) (int64, error) {
	if i, ok := intValue(v); ok {
		return i, nil
	}
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, invalidError(name, val, "not a finite number")
		}
		if val >= math.MaxInt64 || val < math.MinInt64 {
			return 0, rangeError(name, val, "%g overflows int64", val)
		}
		return int64(val), nil
	case float32:
		return toInteger(name, float64(val))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, invalidError(name, val, "not an integer")
		}
		return i, nil
	}
	return 0, typeError(name, v, "integer")
}

// toFloat accepts numbers and numeric strings.
func toFloat(name string, v any) (float64, error) {
	if i, ok := intValue(v); ok {
		return float64(i), nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, invalidError(name, val, "not a number")
		}
		return x, nil
	}
	return 0, typeError(name, v, "number")
}
