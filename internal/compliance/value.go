package compliance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags a Value node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a generic tagged tree over incoming payload data. Compliance
// rules walk this tree instead of reflecting over arbitrary maps, which
// keeps field-name matching type-safe.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Str    string
	Array  []Value
	Object map[string]Value
}

// FromAny converts decoded JSON (maps, slices, scalars) into a Value tree.
// Unrecognised Go types degrade to their string form rather than failing.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: v}
	case float64:
		return Value{Kind: KindNumber, Number: v}
	case int:
		return Value{Kind: KindNumber, Number: float64(v)}
	case int64:
		return Value{Kind: KindNumber, Number: float64(v)}
	case json.Number:
		f, _ := v.Float64()
		return Value{Kind: KindNumber, Number: f}
	case string:
		return Value{Kind: KindString, Str: v}
	case []any:
		arr := make([]Value, 0, len(v))
		for _, item := range v {
			arr = append(arr, FromAny(item))
		}
		return Value{Kind: KindArray, Array: arr}
	case map[string]any:
		obj := make(map[string]Value, len(v))
		for key, item := range v {
			obj[key] = FromAny(item)
		}
		return Value{Kind: KindObject, Object: obj}
	default:
		return Value{Kind: KindString, Str: fmt.Sprint(v)}
	}
}

// FromMap converts a payload map into an object Value.
func FromMap(data map[string]any) Value {
	return FromAny(data)
}

// Field returns the object member for key.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != KindObject {
		return Value{}, false
	}
	child, ok := v.Object[key]
	return child, ok
}

// AsString renders a scalar value as text. Arrays and objects return empty.
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// Truthy reports whether a scalar reads as an affirmative flag.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number != 0
	case KindString:
		s := strings.ToLower(strings.TrimSpace(v.Str))
		return s == "true" || s == "yes" || s == "1"
	}
	return false
}

// Walk visits every node in the tree depth-first. fn receives the joined
// lower-cased key path ("payment.card_number") and the node.
func Walk(v Value, fn func(path string, node Value)) {
	walk("", v, fn)
}

func walk(path string, v Value, fn func(path string, node Value)) {
	fn(path, v)
	switch v.Kind {
	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for key := range v.Object {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child := v.Object[key]
			walk(joinPath(path, strings.ToLower(key)), child, fn)
		}
	case KindArray:
		for i, child := range v.Array {
			walk(joinPath(path, strconv.Itoa(i)), child, fn)
		}
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// Serialize renders the whole tree as a flat string for pattern scans.
func Serialize(v Value) string {
	var b strings.Builder
	Walk(v, func(path string, node Value) {
		switch node.Kind {
		case KindString, KindNumber, KindBool:
			b.WriteString(path)
			b.WriteByte('=')
			b.WriteString(node.AsString())
			b.WriteByte(' ')
		}
	})
	return b.String()
}
