// Package jsonvalue implements a streaming JSON tokenizer and tagged-value
// tree (spec §4.3), used by the repo-download and service-refresh workflows
// to read ad-hoc config/state documents without committing to a concrete Go
// struct up front. Grounded on the original_source/zypp-core/parser/json.cc
// tokenizer and value tagging, written the idiomatic-Go way the teacher
// writes its own small ADT-ish types (see claircore's digest.go: an
// unexported discriminant plus typed accessors).
package jsonvalue

import "fmt"

// Kind discriminates the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUInt
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUInt:
		return "uint"
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

// Member is one key/value pair of an Object. Objects preserve duplicate keys
// (multi-map semantics), so Object is a slice of Members rather than a map.
type Member struct {
	Key   string
	Value Value
}

// Value is a tagged JSON value tree node.
type Value struct {
	kind Kind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	arr  []Value
	obj  []Member
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// Null constructs a null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool constructs a bool Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int constructs a signed-integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// UInt constructs an unsigned-integer Value.
func UInt(u uint64) Value { return Value{kind: KindUInt, u: u} }

// Number constructs a float Value.
func Number(f float64) Value { return Value{kind: KindNumber, f: f} }

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array constructs an array Value.
func Array(elems []Value) Value { return Value{kind: KindArray, arr: elems} }

// Object constructs an object Value, preserving the member order (and any
// duplicate keys) given.
func Object(members []Member) Value { return Value{kind: KindObject, obj: members} }

// AsBool returns the bool payload, or ok=false if v is not a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the signed-integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsUInt returns the unsigned-integer payload.
func (v Value) AsUInt() (uint64, bool) { return v.u, v.kind == KindUInt }

// AsNumber returns the float payload.
func (v Value) AsNumber() (float64, bool) { return v.f, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the array payload.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the object's members in document order.
func (v Value) AsObject() ([]Member, bool) { return v.obj, v.kind == KindObject }

// EqualRange returns every member of an object Value whose key equals key,
// preserving document order; this is the multi-map lookup the spec requires
// for duplicate keys.
func (v Value) EqualRange(key string) []Value {
	if v.kind != KindObject {
		return nil
	}
	var out []Value
	for _, m := range v.obj {
		if m.Key == key {
			out = append(out, m.Value)
		}
	}
	return out
}

// Get returns the first member matching key, or the zero Value and false.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for _, m := range v.obj {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// Equal reports structural equality. Object members are matched by key and
// value regardless of position, so neither the order of duplicate keys nor
// the order of distinct keys affects the result (the round-trip invariant
// from spec §8 is "modulo object duplicate-key order").
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindUInt:
		return v.u == o.u
	case KindNumber:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		used := make([]bool, len(o.obj))
		for _, m := range v.obj {
			found := false
			for j, om := range o.obj {
				if used[j] || om.Key != m.Key {
					continue
				}
				if m.Value.Equal(om.Value) {
					used[j] = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindUInt:
		return fmt.Sprintf("%d", v.u)
	case KindNumber:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindArray:
		return fmt.Sprintf("array[%d]", len(v.arr))
	case KindObject:
		return fmt.Sprintf("object[%d]", len(v.obj))
	default:
		return "?"
	}
}
