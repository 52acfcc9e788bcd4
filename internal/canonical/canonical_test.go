package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysRecursively(t *testing.T) {
	data, err := Marshal(map[string]interface{}{
		"b": 2,
		"a": map[string]interface{}{
			"z": []interface{}{1, 2},
			"y": "text",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":"text","z":[1,2]},"b":2}`, string(data))
}

func TestHashKeyOrderIndependent(t *testing.T) {
	h1, err := Hash(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashDistinguishesValues(t *testing.T) {
	h1, err := Hash(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

// Pinned corpus: these values must never change, or persisted input hashes
// would stop matching across upgrades.
func TestCanonicalCorpus(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"empty object", map[string]interface{}{}, `{}`},
		{"null", nil, `null`},
		{"nested", map[string]interface{}{"b": nil, "a": true}, `{"a":true,"b":null}`},
		{"array order kept", []interface{}{3, 1, 2}, `[3,1,2]`},
		{"unicode string", map[string]interface{}{"s": "héllo"}, `{"s":"héllo"}`},
		{"float", map[string]interface{}{"n": 1.5}, `{"n":1.5}`},
		{"int", map[string]interface{}{"n": 42}, `{"n":42}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Marshal(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestInputHashShape(t *testing.T) {
	h, err := InputHash("openai:gpt-5", []map[string]string{{"role": "user", "content": "hi"}}, map[string]interface{}{"temperature": 0.2})
	require.NoError(t, err)
	assert.Len(t, h, 64)

	// Same request again hashes identically.
	h2, err := InputHash("openai:gpt-5", []map[string]string{{"role": "user", "content": "hi"}}, map[string]interface{}{"temperature": 0.2})
	require.NoError(t, err)
	assert.Equal(t, h, h2)

	// Different model, different hash.
	h3, err := InputHash("openai:gpt-4o", []map[string]string{{"role": "user", "content": "hi"}}, map[string]interface{}{"temperature": 0.2})
	require.NoError(t, err)
	assert.NotEqual(t, h, h3)
}

func TestStructInputNormalized(t *testing.T) {
	type params struct {
		Effort string  `json:"effort,omitempty"`
		Temp   float64 `json:"temp"`
	}
	h1, err := Hash(params{Effort: "low", Temp: 0.7})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"temp": 0.7, "effort": "low"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "abcdef", ShortHash("abcdef"))
	assert.Equal(t, "0123456789ab", ShortHash("0123456789abcdef"))
}
