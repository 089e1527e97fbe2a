package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"sorted keys", Object{"b": Int(2), "a": Int(1)}, `{"a":1,"b":2}`},
		{"nested", Object{"z": Array{Bool(true), String("x")}, "a": Object{"k": Int(-3)}}, `{"a":{"k":-3},"z":[true,"x"]}`},
		{"no html escaping", String("<a&b>"), `"<a&b>"`},
		{"control characters escaped", String("line\nbreak"), `"line\nbreak"`},
		{"line separator literal", String("a\u2028b"), "\"a\u2028b\""},
		{"escaped backslash before u2028 text", String(`\u2028`), `"\\u2028"`},
		{"decomposed string kept", String("e\u0301"), "\"e\u0301\""},
		{"decomposed key kept", Object{"e\u0301": Int(1)}, "{\"e\u0301\":1}"},
		{"empty object", Object{}, `{}`},
		{"empty array", Array{}, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 by UTF-8 bytes but after it by UTF-16
	// code units (0xFF61 > 0xD83D).
	obj := Object{"\uFF61": Int(1), "\U0001F600": Int(2)}
	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFF61\":1}", string(got))
}

func TestMutationDigest_NormalizesStrings(t *testing.T) {
	composed, err := MutationDigest(Object{"caf\u00e9": String("\u00e9")})
	require.NoError(t, err)
	decomposed, err := MutationDigest(Object{"cafe\u0301": String("e\u0301")})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)

	other, err := MutationDigest(Object{"caf\u00e9": String("e")})
	require.NoError(t, err)
	assert.NotEqual(t, composed, other)
}

func TestMutationDigest_RejectsCollidingKeys(t *testing.T) {
	_, err := MutationDigest(Object{"\u00e9": Int(1), "e\u0301": Int(2)})
	assert.Error(t, err)
}

func TestMarshalCanonical_RejectsNil(t *testing.T) {
	_, err := MarshalCanonical(Object{"k": nil})
	assert.Error(t, err)
}

func TestMutationDigest_Stable(t *testing.T) {
	a := Object{"secret": String("API_KEY"), "action": String("delete")}
	b := Object{"action": String("delete"), "secret": String("API_KEY")}

	da, err := MutationDigest(a)
	require.NoError(t, err)
	db, err := MutationDigest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	dc, err := MutationDigest(Object{"secret": String("API_KEY"), "action": String("update")})
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestObject_JSONRoundTrip(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"n":42,"tags":["a","b"],"ok":true}`), &obj))
	assert.Equal(t, Object{
		"n":    Int(42),
		"tags": Array{String("a"), String("b")},
		"ok":   Bool(true),
	}, obj)

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"n":42,"ok":true,"tags":["a","b"]}`, string(data))
}

func TestObject_UnmarshalRejects(t *testing.T) {
	tests := map[string]string{
		"float":      `{"n":1.5}`,
		"exponent":   `{"n":1e3}`,
		"null":       `{"n":null}`,
		"not object": `["a"]`,
		"overflow":   `{"n":99999999999999999999}`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			var obj Object
			assert.Error(t, json.Unmarshal([]byte(input), &obj))
		})
	}
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{"a": []any{1, "x", false}, "b": int64(7)})
	require.NoError(t, err)
	assert.Equal(t, Object{"a": Array{Int(1), String("x"), Bool(false)}, "b": Int(7)}, v)

	_, err = FromGo(map[string]any{"f": 1.25})
	assert.Error(t, err)

	_, err = FromGo(struct{}{})
	assert.Error(t, err)
}
