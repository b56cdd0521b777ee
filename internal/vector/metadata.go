package vector

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// ValueKind identifies the variant held by a metadata Value.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
	KindStrings
)

// Value is a metadata value: a string, a number, a bool or a list of strings.
type Value struct {
	kind    ValueKind
	str     string
	num     float64
	boolean bool
	strs    []string
}

func String(s string) Value     { return Value{kind: KindString, str: s} }
func Number(f float64) Value    { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value         { return Value{kind: KindBool, boolean: b} }
func Strings(s ...string) Value { return Value{kind: KindStrings, strs: slices.Clone(s)} }

func (v Value) Kind() ValueKind { return v.kind }

// Any converts the value to its plain Go form: string, float64, bool or []string.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.boolean
	case KindStrings:
		return slices.Clone(v.strs)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	case KindStrings:
		return fmt.Sprintf("%v", v.strs)
	default:
		return "<nil>"
	}
}

// Equal compares kind and payload. Numbers compare by value, so 3 and 3.0 are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.boolean == o.boolean
	case KindStrings:
		return slices.Equal(v.strs, o.strs)
	default:
		return true
	}
}

// ValueOf converts a plain Go value into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("metadata number %q: %w", t, err)
		}
		return Number(f), nil
	case []string:
		return Strings(t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("metadata lists may only hold strings, got %T", item)
			}
			out = append(out, s)
		}
		return Strings(out...), nil
	default:
		return Value{}, fmt.Errorf("unsupported metadata value type %T", x)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Metadata is a string-keyed map of metadata values.
type Metadata map[string]Value

// MetadataOf converts a plain map into Metadata.
func MetadataOf(m map[string]any) (Metadata, error) {
	if m == nil {
		return nil, nil
	}
	md := make(Metadata, len(m))
	for k, x := range m {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("metadata field %q: %w", k, err)
		}
		md[k] = v
	}
	return md, nil
}

// Map converts the metadata into a plain map.
func (md Metadata) Map() map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v.Any()
	}
	return out
}

// Clone deep-copies the metadata.
func (md Metadata) Clone() Metadata {
	if md == nil {
		return nil
	}
	out := maps.Clone(md)
	for k, v := range out {
		if v.kind == KindStrings {
			out[k] = Strings(v.strs...)
		}
	}
	return out
}
