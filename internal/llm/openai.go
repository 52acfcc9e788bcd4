package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// OpenAIGenerator serves chat completions through the OpenAI API or any
// OpenAI-compatible endpoint. The Gemini binding reuses it with Google's
// compatibility BaseURL.
type OpenAIGenerator struct {
	provider models.Provider
	client   *openai.Client
}

// NewOpenAIGenerator creates a generator for the given provider. baseURL
// is optional; empty means the stock OpenAI endpoint.
func NewOpenAIGenerator(provider models.Provider, apiKey, baseURL string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key not configured", provider)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	L_debug("openai-compatible client created", "provider", provider, "baseURL", baseURL)
	return &OpenAIGenerator{
		provider: provider,
		client:   openai.NewClientWithConfig(config),
	}, nil
}

func (g *OpenAIGenerator) Provider() models.Provider { return g.provider }

// GenerateText runs a plain chat completion.
func (g *OpenAIGenerator) GenerateText(ctx context.Context, model, prompt string, opts Options) (*Result, error) {
	return g.complete(ctx, model, prompt, nil, opts)
}

// GenerateStructured runs a completion constrained by a JSON schema using
// the native json_schema response format.
func (g *OpenAIGenerator) GenerateStructured(ctx context.Context, model, prompt string, schema json.RawMessage, opts Options) (*Result, error) {
	return g.complete(ctx, model, prompt, schema, opts)
}

func (g *OpenAIGenerator) complete(ctx context.Context, model, prompt string, schema json.RawMessage, opts Options) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildChatMessages(prompt, opts.SystemPrompt),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.ReasoningEffort != "" {
		req.ReasoningEffort = opts.ReasoningEffort
	}
	if opts.Verbosity != "" && strings.HasPrefix(model, "gpt-5") {
		req.Verbosity = opts.Verbosity
	}
	if schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Strict: true,
				Schema: rawSchema(schema),
			},
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, Classify(fmt.Errorf("%s: %w", g.provider, err))
	}
	if len(resp.Choices) == 0 {
		return nil, Classify(fmt.Errorf("%s: empty response from %s", g.provider, model))
	}

	text := resp.Choices[0].Message.Content
	if schema != nil {
		text, err = extractJSON(text)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{Text: text}
	if resp.Usage.TotalTokens > 0 {
		result.Usage = &Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if raw, err := json.Marshal(resp); err == nil {
		result.Raw = raw
	}
	return result, nil
}

func buildChatMessages(prompt, system string) []openai.ChatCompletionMessage {
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	return msgs
}

// rawSchema adapts a json.RawMessage to the Marshaler the response format
// expects.
type rawSchema []byte

func (r rawSchema) MarshalJSON() ([]byte, error) { return []byte(r), nil }
