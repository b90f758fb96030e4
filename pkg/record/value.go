// Package record provides the loosely-typed data shapes exchanged with the CRM API.
//
// Records and write payloads are keyed by field identifiers that are only known at
// runtime (custom fields are resolved through the schema package), so they are
// represented as an ordered map of string keys to a tagged Value union instead of
// fixed structs.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which member of the Value union is set.
type Kind uint8

const (
	// KindNull is the JSON null value (and the zero Value).
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	// KindObject only appears in records returned by the API (nested related objects).
	KindObject
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union of the JSON value shapes a field can hold.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	list []Value
	obj  *Fields
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a numeric value holding an integer.
func Int(n int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(n, 10))}
}

// Float returns a numeric value holding a float.
func Float(f float64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatFloat(f, 'f', -1, 64))}
}

// Number returns a numeric value from its JSON text.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// List returns a list value. The slice is copied.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Strings is a shorthand for a list of string values.
func Strings(items ...string) Value {
	vals := make([]Value, len(items))
	for i, s := range items {
		vals[i] = String(s)
	}
	return Value{kind: KindList, list: vals}
}

// Object wraps nested fields as a value.
func Object(f *Fields) Value {
	if f == nil {
		return Null()
	}
	return Value{kind: KindObject, obj: f}
}

// Kind reports which member is set.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string member.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the number member.
func (v Value) Num() (json.Number, bool) { return v.num, v.kind == KindNumber }

// BoolVal returns the bool member.
func (v Value) BoolVal() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns the list member. The returned slice must not be modified.
func (v Value) Items() ([]Value, bool) { return v.list, v.kind == KindList }

// Obj returns the object member.
func (v Value) Obj() (*Fields, bool) { return v.obj, v.kind == KindObject }

// Text renders scalar values as plain text: strings unquoted, null as "".
// Lists and objects are rendered as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		cp := make([]Value, len(v.list))
		for i, item := range v.list {
			cp[i] = item.Clone()
		}
		return Value{kind: KindList, list: cp}
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	default:
		return v
	}
}

// Equal reports deep equality. Numbers compare by their JSON text.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(o.obj)
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		return v.obj.MarshalJSON()
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Object key order is preserved.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	val, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// FromAny converts a value produced by encoding/json (or built by hand from Go
// scalars, slices and maps) into a Value. Map keys are sorted since Go maps have
// no order.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		return Float(t), nil
	case []string:
		return Strings(t...), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			val, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, val)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		f, err := FromMap(t)
		if err != nil {
			return Value{}, err
		}
		return Object(f), nil
	case *Fields:
		return Object(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}
