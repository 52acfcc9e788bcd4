package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/roelfdiedericks/xai-go"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// safeInt32 converts int to int32 with bounds checking.
func safeInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int32(n)
}

// XAIGenerator serves completions through xAI's Grok API. Structured
// output is emulated via a schema instruction plus JSON validation.
type XAIGenerator struct {
	client *xai.Client
}

// NewXAIGenerator creates a generator for Grok models.
func NewXAIGenerator(apiKey string) (*XAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("xai API key not configured")
	}
	client, err := xai.New(xai.Config{
		APIKey:  xai.NewSecureString(apiKey),
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("xai: create client: %w", err)
	}
	L_debug("xai client created")
	return &XAIGenerator{client: client}, nil
}

func (g *XAIGenerator) Provider() models.Provider { return models.ProviderXAI }

func (g *XAIGenerator) GenerateText(ctx context.Context, model, prompt string, opts Options) (*Result, error) {
	return g.complete(ctx, model, prompt, opts)
}

func (g *XAIGenerator) GenerateStructured(ctx context.Context, model, prompt string, schema json.RawMessage, opts Options) (*Result, error) {
	result, err := g.complete(ctx, model, prompt+schemaInstruction(schema), opts)
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

func (g *XAIGenerator) complete(ctx context.Context, model, prompt string, opts Options) (*Result, error) {
	req := xai.NewChatRequest().WithModel(model)
	if opts.MaxTokens > 0 {
		req = req.WithMaxTokens(safeInt32(opts.MaxTokens))
	}
	if opts.ReasoningEffort != "" {
		req = req.WithReasoningEffort(xaiEffort(opts.ReasoningEffort))
	}
	if opts.Temperature != nil {
		// The chat request builder has no temperature knob.
		L_debug("xai: temperature not supported, ignoring", "model", model, "temperature", *opts.Temperature)
	}
	if opts.SystemPrompt != "" {
		req.SystemMessage(xai.SystemContent{Text: opts.SystemPrompt})
	}
	req.UserMessage(xai.UserContent{Text: prompt})

	resp, err := g.client.CompleteChat(ctx, req)
	if err != nil {
		return nil, Classify(fmt.Errorf("xai: %w", err))
	}
	if resp.Content == "" {
		return nil, Classify(fmt.Errorf("xai: empty response from %s", model))
	}

	result := &Result{
		Text: resp.Content,
		Usage: &Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if raw, err := json.Marshal(resp); err == nil {
		result.Raw = raw
	}
	L_trace("xai completion", "model", model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"reasoning_tokens", resp.Usage.ReasoningTokens)
	return result, nil
}

func xaiEffort(effort string) xai.ReasoningEffort {
	switch effort {
	case "low", "minimal":
		return xai.ReasoningEffortLow
	case "high":
		return xai.ReasoningEffortHigh
	default:
		return xai.ReasoningEffortMedium
	}
}
