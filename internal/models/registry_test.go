package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBindings(providers ...Provider) map[Provider]Binding {
	b := make(map[Provider]Binding)
	for _, p := range providers {
		b[p] = Binding{Provider: p, APIKey: "test-key"}
	}
	return b
}

func TestParseID(t *testing.T) {
	p, name, err := ParseID("openai:gpt-5")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)
	assert.Equal(t, "gpt-5", name)

	for _, bad := range []string{"", "gpt-5", ":gpt-5", "openai:", ":"} {
		_, _, err := ParseID(bad)
		var invalid *InvalidIDError
		require.ErrorAs(t, err, &invalid, "id %q", bad)
	}
}

func TestResolveLiveModel(t *testing.T) {
	r := NewRegistry(testBindings(ProviderOpenAI))

	desc, err := r.Resolve("openai:gpt-5")
	require.NoError(t, err)
	assert.Equal(t, "gpt-5", desc.Name)
	assert.True(t, desc.Reasoning)
	assert.True(t, desc.StructuredOutput)
}

func TestResolveUnconfiguredProviderIsNotFound(t *testing.T) {
	r := NewRegistry(testBindings(ProviderOpenAI))

	_, err := r.Resolve("anthropic:claude-sonnet-4-5")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.NotEmpty(t, nf.Available)
	for _, id := range nf.Available {
		assert.True(t, strings.HasPrefix(id, "openai:"))
	}
}

func TestResolveNotFoundSuggestsByPrefix(t *testing.T) {
	r := NewRegistry(testBindings(ProviderOpenAI, ProviderGoogle))

	_, err := r.Resolve("google:no-such-model")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	require.NotEmpty(t, nf.Suggested)
	for _, id := range nf.Suggested {
		assert.True(t, strings.HasPrefix(id, "google:"))
	}
}

func TestResolveUnknownProviderNoSuggestions(t *testing.T) {
	r := NewRegistry(testBindings(ProviderOpenAI))

	_, err := r.Resolve("invalid:model")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, nf.Suggested)
	assert.NotEmpty(t, nf.Available)
}

func TestEmptyAPIKeyIsNotABinding(t *testing.T) {
	r := NewRegistry(map[Provider]Binding{
		ProviderOpenAI: {Provider: ProviderOpenAI, APIKey: ""},
	})
	assert.False(t, r.Configured(ProviderOpenAI))
	assert.Empty(t, r.List())
}

func TestListSorted(t *testing.T) {
	r := NewRegistry(testBindings(ProviderOpenAI, ProviderXAI))
	ids := r.List()
	require.NotEmpty(t, ids)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestListDetailedIncludesUnconfigured(t *testing.T) {
	r := NewRegistry(testBindings(ProviderOpenAI))

	detailed := r.ListDetailed()
	assert.Equal(t, len(Catalog()), len(detailed))

	var sawConfigured, sawUnconfigured bool
	for _, m := range detailed {
		if m.Configured {
			sawConfigured = true
		} else {
			sawUnconfigured = true
		}
	}
	assert.True(t, sawConfigured)
	assert.True(t, sawUnconfigured)
}

func TestCatalogIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, desc := range Catalog() {
		assert.False(t, seen[desc.ID], "duplicate id %s", desc.ID)
		seen[desc.ID] = true
		assert.Equal(t, string(desc.Provider)+":"+desc.Name, desc.ID)
	}
}
