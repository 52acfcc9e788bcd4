package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// defaultAnthropicMaxTokens applies when the caller leaves MaxTokens unset.
// The Messages API requires an explicit value.
const defaultAnthropicMaxTokens = 8192

// AnthropicGenerator serves completions through the Anthropic Messages API.
// Structured output is emulated: the schema is appended to the prompt and
// the reply is validated as JSON.
type AnthropicGenerator struct {
	client *anthropic.Client
}

// NewAnthropicGenerator creates a generator for Claude models. baseURL is
// optional.
func NewAnthropicGenerator(apiKey, baseURL string) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	L_debug("anthropic client created", "baseURL", baseURL)
	return &AnthropicGenerator{client: &client}, nil
}

func (g *AnthropicGenerator) Provider() models.Provider { return models.ProviderAnthropic }

func (g *AnthropicGenerator) GenerateText(ctx context.Context, model, prompt string, opts Options) (*Result, error) {
	return g.complete(ctx, model, prompt, opts, false)
}

func (g *AnthropicGenerator) GenerateStructured(ctx context.Context, model, prompt string, schema json.RawMessage, opts Options) (*Result, error) {
	result, err := g.complete(ctx, model, prompt+schemaInstruction(schema), opts, true)
	if err != nil {
		return nil, err
	}
	text, err := extractJSON(result.Text)
	if err != nil {
		return nil, err
	}
	result.Text = text
	return result, nil
}

func (g *AnthropicGenerator) complete(ctx context.Context, model, prompt string, opts Options, structured bool) (*Result, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*opts.Temperature))
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, Classify(fmt.Errorf("anthropic: %w", err))
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, Classify(fmt.Errorf("anthropic: empty response from %s", model))
	}

	result := &Result{
		Text: text,
		Usage: &Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	if raw, err := json.Marshal(msg); err == nil {
		result.Raw = raw
	}
	L_trace("anthropic completion", "model", model, "structured", structured,
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens)
	return result, nil
}
