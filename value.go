package incmake

import (
	"sort"
	"strconv"
	"strings"
)

// Value is a memoizable parameter value. The set of kinds is closed:
// nil, booleans, integers, floats, strings, ordered lists, string-keyed
// maps, and opaque values compared by a caller-supplied key. Values are
// serialized canonically at rule-definition time; two parameters match
// exactly when their encodings match.
type Value interface {
	encode(b *strings.Builder)
}

// Nil returns the nil value.
func Nil() Value { return nilValue{} }

// Bool returns a boolean value.
func Bool(v bool) Value { return boolValue(v) }

// Int returns an integer value.
func Int(v int64) Value { return intValue(v) }

// Float returns a floating point value. Encoding uses the exact
// hexadecimal form, so values that differ in any bit differ in memo.
func Float(v float64) Value { return floatValue(v) }

// Str returns a string value.
func Str(v string) Value { return strValue(v) }

// List returns an ordered sequence. Order is significant.
func List(items ...Value) Value { return listValue(items) }

// Map returns a string-keyed mapping. Encoding sorts keys, so insertion
// order does not matter.
func Map(m map[string]Value) Value { return mapValue(m) }

// Opaque returns a value whose identity is entirely the given key. Use
// it for parameters the closed kinds cannot express: the caller decides
// what constitutes a change and encodes it into the key.
func Opaque(key string) Value { return opaqueValue(key) }

type (
	nilValue    struct{}
	boolValue   bool
	intValue    int64
	floatValue  float64
	strValue    string
	listValue   []Value
	mapValue    map[string]Value
	opaqueValue string
)

func (nilValue) encode(b *strings.Builder) { b.WriteString("n") }

func (v boolValue) encode(b *strings.Builder) {
	b.WriteString("b:")
	b.WriteString(strconv.FormatBool(bool(v)))
}

func (v intValue) encode(b *strings.Builder) {
	b.WriteString("i:")
	b.WriteString(strconv.FormatInt(int64(v), 10))
}

func (v floatValue) encode(b *strings.Builder) {
	b.WriteString("f:")
	b.WriteString(strconv.FormatFloat(float64(v), 'x', -1, 64))
}

func (v strValue) encode(b *strings.Builder) {
	b.WriteString("s:")
	b.WriteString(strconv.Quote(string(v)))
}

func (v listValue) encode(b *strings.Builder) {
	b.WriteString("l:[")
	for i, item := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeValue(item, b)
	}
	b.WriteByte(']')
}

func (v mapValue) encode(b *strings.Builder) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("m:{")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		encodeValue(v[k], b)
	}
	b.WriteByte('}')
}

func (v opaqueValue) encode(b *strings.Builder) {
	b.WriteString("o:")
	b.WriteString(strconv.Quote(string(v)))
}

// encodeValue treats a nil interface as Nil so callers cannot produce
// two encodings of "no value".
func encodeValue(v Value, b *strings.Builder) {
	if v == nil {
		nilValue{}.encode(b)
		return
	}
	v.encode(b)
}

// encoded returns the canonical encoding of v.
func encoded(v Value) string {
	var b strings.Builder
	encodeValue(v, &b)
	return b.String()
}
