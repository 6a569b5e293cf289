package incmake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_CanonicalEncodings(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", Nil(), "n"},
		{"nil interface", nil, "n"},
		{"true", Bool(true), "b:true"},
		{"false", Bool(false), "b:false"},
		{"int", Int(42), "i:42"},
		{"negative int", Int(-7), "i:-7"},
		{"float", Float(1.5), "f:0x1.8p+00"},
		{"float one", Float(1), "f:0x1p+00"},
		{"string", Str("hi"), `s:"hi"`},
		{"string with quote", Str(`a"b`), `s:"a\"b"`},
		{"empty list", List(), "l:[]"},
		{"list", List(Int(1), Str("x")), `l:[i:1,s:"x"]`},
		{"nil in list", List(nil), "l:[n]"},
		{"empty map", Map(nil), "m:{}"},
		{"map sorts keys", Map(map[string]Value{"b": Int(2), "a": Int(1)}), `m:{"a":i:1,"b":i:2}`},
		{"nil in map", Map(map[string]Value{"k": nil}), `m:{"k":n}`},
		{"nested", Map(map[string]Value{"flags": List(Bool(false))}), `m:{"flags":l:[b:false]}`},
		{"opaque", Opaque("schema-v2"), `o:"schema-v2"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, encoded(tc.v))
		})
	}
}

// Kinds must never encode into each other's space: a string "1" is not
// the integer 1, and an opaque key is not a string.
func TestValue_KindsAreDistinct(t *testing.T) {
	assert.NotEqual(t, encoded(Int(1)), encoded(Str("1")))
	assert.NotEqual(t, encoded(Str("k")), encoded(Opaque("k")))
	assert.NotEqual(t, encoded(Nil()), encoded(Str("n")))
	assert.NotEqual(t, encoded(List()), encoded(Map(nil)))
}
