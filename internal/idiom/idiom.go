// Package idiom answers "what is the idiomatic way to do X" questions
// through the advice engine with a fixed system prompt and schema.
package idiom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roelfdiedericks/modelgate/internal/advice"
	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// DefaultModel serves idiom queries when the caller does not pick one.
const DefaultModel = "openai:gpt-5-mini"

const systemPrompt = `You are an expert software engineering advisor. Given a task, recommend the idiomatic approach for the caller's ecosystem: which established packages to use, which anti-patterns to avoid, and a short example. Prefer widely adopted libraries over hand-rolled code. Be concrete and opinionated. If the caller shows a current approach, critique it honestly.`

// Schema constrains the structured idiom reply.
var Schema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "approach": {
      "type": "string",
      "description": "The recommended idiomatic approach"
    },
    "packages_to_use": {
      "type": "array",
      "items": {"type": "string"}
    },
    "anti_patterns": {
      "type": "array",
      "items": {"type": "string"}
    },
    "example_code": {"type": "string"},
    "rationale": {"type": "string"},
    "references": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["approach", "packages_to_use", "anti_patterns", "example_code", "rationale"],
  "additionalProperties": false
}`)

// Reply is the parsed structured idiom response.
type Reply struct {
	Approach      string   `json:"approach"`
	PackagesToUse []string `json:"packages_to_use"`
	AntiPatterns  []string `json:"anti_patterns"`
	ExampleCode   string   `json:"example_code"`
	Rationale     string   `json:"rationale"`
	References    []string `json:"references,omitempty"`
}

// Query is one idiom question.
type Query struct {
	Task            string
	CurrentApproach string
	Context         string
	Model           string
}

// Advisor serves idiom queries over the advice engine.
type Advisor struct {
	engine *advice.Engine
}

// NewAdvisor wires the advisor.
func NewAdvisor(engine *advice.Engine) *Advisor {
	return &Advisor{engine: engine}
}

// Ask runs the query and renders the reply as markdown. Falls back to
// the raw text when the model cannot do structured output.
func (a *Advisor) Ask(ctx context.Context, q Query) (string, error) {
	if q.Task == "" {
		return "", fmt.Errorf("idiom: task cannot be empty")
	}
	model := q.Model
	if model == "" {
		model = DefaultModel
	}

	prompt := buildPrompt(q)
	result, structured, err := a.engine.Generate(ctx, model, prompt, Schema, advice.Options{
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", err
	}
	if !structured {
		return result.Text, nil
	}

	var reply Reply
	if err := json.Unmarshal([]byte(result.Text), &reply); err != nil || reply.Approach == "" {
		L_warn("idiom: structured reply unparseable, serving as text", "model", model, "error", err)
		return result.Text, nil
	}
	return render(&reply), nil
}

func buildPrompt(q Query) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(q.Task)
	if q.CurrentApproach != "" {
		b.WriteString("\n\nCurrent approach:\n")
		b.WriteString(q.CurrentApproach)
	}
	if q.Context != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(q.Context)
	}
	return b.String()
}

func render(r *Reply) string {
	var b strings.Builder
	b.WriteString("## Recommended Approach\n\n")
	b.WriteString(r.Approach)
	b.WriteString("\n")

	if len(r.PackagesToUse) > 0 {
		b.WriteString("\n## Packages\n\n")
		for _, p := range r.PackagesToUse {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if len(r.AntiPatterns) > 0 {
		b.WriteString("\n## Anti-patterns to Avoid\n\n")
		for _, p := range r.AntiPatterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if r.ExampleCode != "" {
		b.WriteString("\n## Example\n\n```\n")
		b.WriteString(strings.TrimSuffix(r.ExampleCode, "\n"))
		b.WriteString("\n```\n")
	}
	if r.Rationale != "" {
		b.WriteString("\n## Rationale\n\n")
		b.WriteString(r.Rationale)
		b.WriteString("\n")
	}
	if len(r.References) > 0 {
		b.WriteString("\n## References\n\n")
		for _, ref := range r.References {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
	}
	return b.String()
}
