package variables

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindUndefined is the zero Value, returned when a path does not resolve.
	KindUndefined Kind = iota
	// KindNull is an explicit null.
	KindNull
	// KindBool is a boolean scalar.
	KindBool
	// KindNumber is a numeric scalar kept in its literal form.
	KindNumber
	// KindString is a string scalar.
	KindString
	// KindArray is an ordered list of values.
	KindArray
	// KindObject is a string-keyed map of values.
	KindObject
)

// String returns the type name shown to clients.
func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a node in a variable snapshot tree.
type Value struct {
	kind   Kind
	text   string // bool, number and string literal
	items  []Value
	fields map[string]Value
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, text: strconv.FormatBool(b)} }

// Number returns a numeric value from its literal text.
func Number(literal string) Value { return Value{kind: KindNumber, text: literal} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Array returns an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Object returns an object value.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, fields: fields}
}

// FromAny converts decoded JSON, or plain Go scalars, maps and slices, into a Value.
// Unsupported types are rendered with fmt and kept as strings.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case json.Number:
		return Number(x.String())
	case float64:
		return Number(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return Number(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case int:
		return Number(strconv.Itoa(x))
	case int64:
		return Number(strconv.FormatInt(x, 10))
	case uint64:
		return Number(strconv.FormatUint(x, 10))
	case uint32:
		return Number(strconv.FormatUint(uint64(x), 10))
	case *big.Int:
		if x == nil {
			return Null()
		}
		return Number(x.String())
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return Array(items...)
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			fields[k] = FromAny(item)
		}
		return Object(fields)
	case map[string]string:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			fields[k] = String(item)
		}
		return Object(fields)
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsObject reports whether v can be expanded into named children.
func (v Value) IsObject() bool { return v.kind == KindObject }

// Keys returns the object keys of v in sorted order, or nil for non-objects.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the named child of an object.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Undefined(), false
	}
	child, ok := v.fields[name]
	return child, ok
}

// Index returns the i-th element of an array.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.items) {
		return Undefined(), false
	}
	return v.items[i], true
}

// Len returns the number of children of an array or object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.fields)
	default:
		return 0
	}
}

// Walk follows keys from v. Object children are looked up by name and array
// elements by decimal index. Any miss yields Undefined.
func (v Value) Walk(keys []string) Value {
	cur := v
	for _, key := range keys {
		switch cur.kind {
		case KindObject:
			next, ok := cur.fields[key]
			if !ok {
				return Undefined()
			}
			cur = next
		case KindArray:
			i, err := strconv.Atoi(key)
			if err != nil {
				return Undefined()
			}
			next, ok := cur.Index(i)
			if !ok {
				return Undefined()
			}
			cur = next
		default:
			return Undefined()
		}
	}
	return cur
}

// Text returns the literal display text of v. Strings are returned verbatim,
// containers as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool, KindNumber, KindString:
		return v.text
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(data)
	}
}

// MarshalJSON implements json.Marshaler. Undefined encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return []byte("null"), nil
	case KindBool:
		return []byte(v.text), nil
	case KindNumber:
		if v.text == "" {
			return []byte("0"), nil
		}
		return []byte(v.text), nil
	case KindString:
		return json.Marshal(v.text)
	case KindArray:
		return json.Marshal(v.items)
	case KindObject:
		return json.Marshal(v.fields)
	default:
		return nil, fmt.Errorf("marshal value of kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler, keeping numbers in literal form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
