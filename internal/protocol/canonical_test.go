package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"string", `"hello"`, `"hello"`},
		{"int", `42`, `42`},
		{"negative", ` -100 `, `-100`},
		{"float kept verbatim", `1.50`, `1.50`},
		{"large int kept verbatim", `9223372036854775807`, `9223372036854775807`},
		{"bool", `true`, `true`},
		{"null", `null`, `null`},
		{"empty array", `[ ]`, `[]`},
		{"empty object", `{ }`, `{}`},
		{"array", `[1, 2, 3]`, `[1,2,3]`},
		{"sorted keys", `{"zebra":1,"alpha":2,"beta":3}`, `{"alpha":2,"beta":3,"zebra":1}`},
		{"nested", `{"z":{"b":1,"a":2},"a":3}`, `{"a":3,"z":{"a":2,"b":1}}`},
		{"no html escape", `{"t":"<a&b>"}`, `{"t":"<a&b>"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Canonicalize(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestCanonicalize_EmptyInputIsNull(t *testing.T) {
	out, err := Canonicalize(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCanonicalize_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to a single U+00E9.
	out, err := Canonicalize(json.RawMessage("\"e\u0301\""))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestCanonicalize_LineSeparatorsLiteral(t *testing.T) {
	out, err := Canonicalize(json.RawMessage("\"a\u2028b\""))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	// An escaped backslash followed by the text u2028 stays escaped.
	out, err = Canonicalize(json.RawMessage(`"a\\u2028b"`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

func TestCanonicalize_UTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates D83D DE00 which sort before U+FF61 in
	// UTF-16, although its UTF-8 bytes sort after.
	out, err := Canonicalize(json.RawMessage("{\"\uff61\":1,\"\U0001F600\":2}"))
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(out))
}

func TestCanonicalize_Invalid(t *testing.T) {
	_, err := Canonicalize(json.RawMessage(`{"a":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canonicalize")

	_, err = Canonicalize(json.RawMessage(`1 2`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestCanonicalize_Idempotent(t *testing.T) {
	first, err := Canonicalize(json.RawMessage(`{"b":[1,{"d":2,"c":1}],"a":"x"}`))
	require.NoError(t, err)
	second, err := Canonicalize(first)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}
