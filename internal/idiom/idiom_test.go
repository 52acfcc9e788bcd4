package idiom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt(Query{Task: "parse YAML config"})
	assert.Equal(t, "Task: parse YAML config", p)

	p = buildPrompt(Query{
		Task:            "parse YAML config",
		CurrentApproach: "regex over lines",
		Context:         "CLI tool",
	})
	assert.Contains(t, p, "Task: parse YAML config")
	assert.Contains(t, p, "Current approach:\nregex over lines")
	assert.Contains(t, p, "Context:\nCLI tool")
}

func TestRender(t *testing.T) {
	reply := &Reply{
		Approach:      "Use a schema-driven YAML decoder",
		PackagesToUse: []string{"gopkg.in/yaml.v3"},
		AntiPatterns:  []string{"regex parsing of structured formats"},
		ExampleCode:   "var cfg Config\nyaml.Unmarshal(data, &cfg)\n",
		Rationale:     "Decoders handle edge cases regex never will.",
		References:    []string{"https://pkg.go.dev/gopkg.in/yaml.v3"},
	}
	out := render(reply)
	assert.Contains(t, out, "## Recommended Approach")
	assert.Contains(t, out, "- gopkg.in/yaml.v3")
	assert.Contains(t, out, "## Anti-patterns to Avoid")
	assert.Contains(t, out, "yaml.Unmarshal(data, &cfg)")
	assert.Contains(t, out, "## Rationale")
	assert.Contains(t, out, "## References")
}

func TestSchemaIsValidJSON(t *testing.T) {
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(Schema, &decoded))
	assert.Equal(t, "object", decoded["type"])
}
