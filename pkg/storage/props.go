// Package storage - property bag value types.
//
// Node, edge, and vector-entry payloads are bags of named values drawn from a
// closed set of scalar kinds: string, 64-bit integer, float, and date. Keeping
// the set closed (instead of map[string]any) keeps serialization and equality
// indexing simple and lossless.
package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind identifies the scalar kind held by a Value.
type ValueKind uint8

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindDate
)

// String returns a human-readable kind name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Value is a tagged-union scalar: exactly one of the payload fields is
// meaningful, selected by Kind. Values are small and copied by value.
//
// Construct with the typed helpers:
//
//	bag := storage.Bag{
//		"user_id":    storage.String("u-42"),
//		"importance": storage.Int(7),
//		"certainty":  storage.Float(0.9),
//		"created_at": storage.Date(time.Now()),
//	}
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Date  time.Time
}

// String creates a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Int creates a 64-bit integer Value.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Float creates a floating-point Value.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Date creates a date Value. Dates are stored with UTC nanosecond precision.
func Date(t time.Time) Value { return Value{Kind: KindDate, Date: t.UTC()} }

// Equal reports whether two values have the same kind and payload.
// Dates compare by instant, not by location.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindDate:
		return v.Date.Equal(o.Date)
	}
	return false
}

// keyEscaper removes raw NUL bytes from string payloads so the encoding can
// sit between NUL separators in composite index keys. The mapping is
// injective: 0x01 escapes itself first, then stands in for 0x00.
var keyEscaper = strings.NewReplacer("\x01", "\x01\x01", "\x00", "\x01\x02")

// key returns a stable string encoding used by the equality index.
// The kind prefix keeps Int(1) and Float(1.0) distinct; the output never
// contains a NUL byte, so a prefix scan over "key + NUL" matches exactly
// one value.
func (v Value) key() string {
	switch v.Kind {
	case KindString:
		return "s:" + keyEscaper.Replace(v.Str)
	case KindInt:
		return "i:" + strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindDate:
		return "d:" + strconv.FormatInt(v.Date.UnixNano(), 10)
	}
	return ""
}

// GoString implements fmt.GoStringer for readable test failures.
func (v Value) GoString() string {
	switch v.Kind {
	case KindString:
		return fmt.Sprintf("String(%q)", v.Str)
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.Int)
	case KindFloat:
		return fmt.Sprintf("Float(%g)", v.Float)
	case KindDate:
		return fmt.Sprintf("Date(%s)", v.Date.Format(time.RFC3339Nano))
	}
	return "Value{}"
}

// jsonValue is the wire form of a Value. The date payload is RFC3339Nano so
// round-trips are lossless.
type jsonValue struct {
	Kind  string   `json:"kind"`
	Str   *string  `json:"str,omitempty"`
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Date  *string  `json:"date,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{Kind: v.Kind.String()}
	switch v.Kind {
	case KindString:
		jv.Str = &v.Str
	case KindInt:
		jv.Int = &v.Int
	case KindFloat:
		jv.Float = &v.Float
	case KindDate:
		s := v.Date.UTC().Format(time.RFC3339Nano)
		jv.Date = &s
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Kind {
	case "string":
		v.Kind = KindString
		if jv.Str != nil {
			v.Str = *jv.Str
		}
	case "int":
		v.Kind = KindInt
		if jv.Int != nil {
			v.Int = *jv.Int
		}
	case "float":
		v.Kind = KindFloat
		if jv.Float != nil {
			v.Float = *jv.Float
		}
	case "date":
		v.Kind = KindDate
		if jv.Date != nil {
			t, err := time.Parse(time.RFC3339Nano, *jv.Date)
			if err != nil {
				return fmt.Errorf("parsing date value: %w", err)
			}
			v.Date = t.UTC()
		}
	default:
		return fmt.Errorf("unknown value kind %q", jv.Kind)
	}
	return nil
}

// Bag is a property bag: field name to scalar value.
//
// Bags are plain maps; the storage engines deep-copy them at every boundary,
// so callers may reuse a Bag after passing it in.
type Bag map[string]Value

// Clone returns a copy of the bag. A nil bag clones to an empty bag.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge overlays the fields of partial onto a copy of the bag, leaving
// unspecified fields untouched. The receiver is not modified.
func (b Bag) Merge(partial Bag) Bag {
	out := b.Clone()
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// GetString returns the string payload of a field, or "" when the field is
// missing or not a string.
func (b Bag) GetString(field string) string {
	if v, ok := b[field]; ok && v.Kind == KindString {
		return v.Str
	}
	return ""
}

// GetInt returns the integer payload of a field, or 0 when absent.
func (b Bag) GetInt(field string) int64 {
	if v, ok := b[field]; ok && v.Kind == KindInt {
		return v.Int
	}
	return 0
}

// GetFloat returns the float payload of a field, or 0 when absent.
func (b Bag) GetFloat(field string) float64 {
	if v, ok := b[field]; ok && v.Kind == KindFloat {
		return v.Float
	}
	return 0
}

// GetDate returns the date payload of a field, or the zero time when absent.
func (b Bag) GetDate(field string) time.Time {
	if v, ok := b[field]; ok && v.Kind == KindDate {
		return v.Date
	}
	return time.Time{}
}
