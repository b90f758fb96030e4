package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Record is a single object returned by the API. The access layer only reads its
// "id" field; everything else is passed through.
type Record = *Fields

// Payload is the body of a write request, keyed by field identifier.
type Payload = *Fields

// ErrNotObject is returned when a JSON document expected to be an object is not.
var ErrNotObject = errors.New("json value is not an object")

// Fields is an insertion-ordered map of field name (or identifier) to Value.
type Fields struct {
	keys   []string
	values map[string]Value
}

// New returns an empty Fields.
func New() *Fields {
	return &Fields{values: make(map[string]Value)}
}

// Set stores a value, keeping the original position when the key already exists.
// It returns f to allow chaining.
func (f *Fields) Set(key string, v Value) *Fields {
	if f.values == nil {
		f.values = make(map[string]Value)
	}
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
	return f
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	v, ok := f.values[key]
	return v, ok
}

// GetString returns the string stored under key, or "" if absent or not a string.
func (f *Fields) GetString(key string) string {
	v, _ := f.Get(key)
	s, _ := v.Str()
	return s
}

// ID returns the record's "id" field.
func (f *Fields) ID() string {
	return f.GetString("id")
}

// Delete removes key, preserving the order of the remaining keys.
func (f *Fields) Delete(key string) {
	if f == nil {
		return
	}
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Rename moves the value stored under from to key to, keeping its position.
// It is a no-op when from is absent.
func (f *Fields) Rename(from, to string) {
	if f == nil || from == to {
		return
	}
	v, ok := f.values[from]
	if !ok {
		return
	}
	if _, exists := f.values[to]; exists {
		f.Delete(to)
	}
	for i, k := range f.keys {
		if k == from {
			f.keys[i] = to
			break
		}
	}
	delete(f.values, from)
	f.values[to] = v
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Range calls fn for every entry in order until fn returns false.
func (f *Fields) Range(fn func(key string, v Value) bool) {
	if f == nil {
		return
	}
	for _, k := range f.keys {
		if !fn(k, f.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (f *Fields) Clone() *Fields {
	if f == nil {
		return nil
	}
	cp := &Fields{
		keys:   make([]string, len(f.keys)),
		values: make(map[string]Value, len(f.values)),
	}
	copy(cp.keys, f.keys)
	for k, v := range f.values {
		cp.values[k] = v.Clone()
	}
	return cp
}

// Equal reports whether both maps hold the same keys in the same order with equal values.
func (f *Fields) Equal(o *Fields) bool {
	if f.Len() != o.Len() {
		return false
	}
	if f.Len() == 0 {
		return true
	}
	for i, k := range f.keys {
		if o.keys[i] != k || !f.values[k].Equal(o.values[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler, emitting keys in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.values[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving document key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	obj, ok := v.Obj()
	if !ok {
		return ErrNotObject
	}
	*f = *obj
	return nil
}

// MarshalYAML renders the fields as a plain map for yaml encoders.
func (f *Fields) MarshalYAML() (any, error) {
	return f.ToAny(), nil
}

// ToAny converts the fields into map/slice/scalar Go values. Key order is lost.
func (f *Fields) ToAny() map[string]any {
	out := make(map[string]any, f.Len())
	f.Range(func(k string, v Value) bool {
		out[k] = v.ToAny()
		return true
	})
	return out
}

// ToAny converts the value into plain Go values.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if i, err := v.num.Int64(); err == nil {
			return i
		}
		if fl, err := v.num.Float64(); err == nil {
			return fl
		}
		return v.num.String()
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	case KindObject:
		return v.obj.ToAny()
	default:
		return nil
	}
}

// FromMap builds Fields from a Go map. Keys are sorted for a deterministic order.
func FromMap(m map[string]any) (*Fields, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := New()
	for _, k := range keys {
		v, err := FromAny(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		f.Set(k, v)
	}
	return f, nil
}

// Decode parses a JSON object into Fields.
func Decode(data []byte) (*Fields, error) {
	f := New()
	if err := f.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return f, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := New()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, fmt.Errorf("decode object key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("decode object key: unexpected token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decode object end: %w", err)
			}
			return Object(obj), nil
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("decode array end: %w", err)
			}
			return Value{kind: KindList, list: items}, nil
		}
	}
	return Value{}, fmt.Errorf("decode value: unexpected token %v", tok)
}
