package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roelfdiedericks/modelgate/internal/advice"
	"github.com/roelfdiedericks/modelgate/internal/idiom"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	"github.com/roelfdiedericks/modelgate/internal/models"
	"github.com/roelfdiedericks/modelgate/internal/turns"
)

// envHints names the variables that configure each provider.
var envHints = map[models.Provider]string{
	models.ProviderOpenAI:    "Set OPENAI_API_KEY",
	models.ProviderGoogle:    "Set GOOGLE_API_KEY or GEMINI_API_KEY",
	models.ProviderAnthropic: "Set ANTHROPIC_API_KEY",
	models.ProviderXAI:       "Set XAI_API_KEY or GROK_API_KEY",
}

func toolList() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "models",
			Description: "List available language models. Pass detailed=true for per-provider configuration status.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"detailed":{"type":"boolean"}}}`),
		},
		{
			Name:        "advice",
			Description: "Ask a language model for advice. Supports conversations with deduplication and deferred completion on providers that offer it.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"model":{"type":"string"},"prompt":{"type":"string"},"reasoningEffort":{"type":"string","enum":["minimal","low","medium","high"]},"verbosity":{"type":"string","enum":["low","medium","high"]},"additionalContext":{"type":"string"},"iteration":{"type":"integer"},"conversation_id":{"type":"integer"},"request_id":{"type":"string"},"check_status":{"type":"boolean"},"temperature":{"type":"number"},"max_completion_tokens":{"type":"integer"},"wait_timeout_ms":{"type":"integer"}},"required":["model","prompt"]}`),
		},
		{
			Name:        "idiom",
			Description: "Ask for the idiomatic way to accomplish a task: recommended packages, anti-patterns, and an example.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"task":{"type":"string"},"current_approach":{"type":"string"},"context":{},"model":{"type":"string"}},"required":["task"]}`),
		},
	}
}

// ==================== models tool ====================

type modelsArgs struct {
	Detailed bool `json:"detailed"`
}

func (s *Server) callModels(ctx context.Context, raw json.RawMessage) (*ToolResult, *RPCError) {
	var args modelsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, rpcError(CodeInvalidParams, "invalid models arguments: %v", err)
		}
	}

	var payload interface{}
	if args.Detailed {
		payload = s.detailedModels()
	} else {
		payload = map[string]interface{}{"available_models": s.registry.List()}
	}

	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, mapError(err)
	}
	return textResult(string(pretty), nil), nil
}

func (s *Server) detailedModels() map[string]interface{} {
	detailed := s.registry.ListDetailed()
	providers := make(map[string]interface{})
	configured := 0
	available := 0

	for _, p := range models.Providers() {
		isConfigured := s.registry.Configured(p)
		apiKey := envHints[p]
		if isConfigured {
			apiKey = "configured"
			configured++
		}

		var ids []string
		for _, m := range detailed {
			if m.Descriptor.Provider == p {
				ids = append(ids, m.ID)
				if m.Configured {
					available++
				}
			}
		}
		providers[string(p)] = map[string]interface{}{
			"configured": isConfigured,
			"apiKey":     apiKey,
			"models":     ids,
		}
	}

	out := map[string]interface{}{
		"providers": providers,
		"summary": map[string]interface{}{
			"totalProvidersConfigured": configured,
			"totalModelsAvailable":     available,
			"readyToUse":               configured > 0,
		},
	}
	if configured == 0 {
		quickSetup := make(map[string]string)
		for p, hint := range envHints {
			quickSetup[string(p)] = hint
		}
		out["quickSetup"] = quickSetup
	}
	return out
}

// ==================== advice tool ====================

type adviceArgs struct {
	Model               string          `json:"model"`
	Prompt              string          `json:"prompt"`
	ReasoningEffort     string          `json:"reasoningEffort"`
	Verbosity           string          `json:"verbosity"`
	AdditionalContext   string          `json:"additionalContext"`
	Iteration           int             `json:"iteration"`
	ConversationID      *int64          `json:"conversation_id"`
	RequestID           string          `json:"request_id"`
	CheckStatus         bool            `json:"check_status"`
	Temperature         *float32        `json:"temperature"`
	MaxCompletionTokens int             `json:"max_completion_tokens"`
	WaitTimeoutMs       int             `json:"wait_timeout_ms"`
}

func (s *Server) callAdvice(ctx context.Context, raw json.RawMessage) (*ToolResult, *RPCError) {
	var args adviceArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rpcError(CodeInvalidParams, "invalid advice arguments: %v", err)
	}

	wait := time.Duration(args.WaitTimeoutMs) * time.Millisecond

	// Status check on an existing request needs no model or prompt.
	if args.CheckStatus || (args.RequestID != "" && args.Prompt == "") {
		if args.RequestID == "" {
			return nil, rpcError(CodeInvalidParams, "request_id cannot be empty when check_status is set")
		}
		result, err := s.runner.CheckOrWait(ctx, args.RequestID, wait)
		if err != nil {
			return nil, mapError(err)
		}
		return turnToolResult(result)
	}

	if args.Model == "" {
		return nil, rpcError(CodeInvalidParams, "model cannot be empty")
	}
	if args.Prompt == "" {
		return nil, rpcError(CodeInvalidParams, "prompt cannot be empty")
	}

	if s.routeAsync(args) {
		result, err := s.runner.RunTurn(ctx, args.ConversationID, args.Model, args.Prompt, turns.Options{
			ReasoningEffort: args.ReasoningEffort,
			Verbosity:       args.Verbosity,
			Temperature:     args.Temperature,
			MaxTokens:       args.MaxCompletionTokens,
			OverallTimeout:  wait,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return turnToolResult(result)
	}

	result, err := s.engine.Advise(ctx, args.Model, args.Prompt, advice.Options{
		ReasoningEffort:   args.ReasoningEffort,
		Verbosity:         args.Verbosity,
		AdditionalContext: args.AdditionalContext,
		Iteration:         args.Iteration,
		Temperature:       args.Temperature,
		MaxTokens:         args.MaxCompletionTokens,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return textResult(result.Text, result.Meta), nil
}

// routeAsync decides between the turn runner and the single-shot engine:
// conversation semantics or an explicit wait budget select the async
// path when the provider can serve it.
func (s *Server) routeAsync(args adviceArgs) bool {
	if args.ConversationID == nil && args.WaitTimeoutMs <= 0 && args.RequestID == "" {
		return false
	}
	desc, err := s.registry.Resolve(args.Model)
	if err != nil {
		// Let the chosen path surface model-not-found.
		return args.ConversationID != nil || args.WaitTimeoutMs > 0
	}
	gen, ok := s.generators[desc.Provider]
	if !ok {
		return false
	}
	if _, deferred := gen.(llm.DeferredGenerator); deferred {
		return true
	}
	// Conversation persistence still applies; the runner degrades to a
	// wrapped synchronous call.
	return args.ConversationID != nil
}

func turnToolResult(result *turns.TurnResult) (*ToolResult, *RPCError) {
	metadata := map[string]interface{}{
		"status":          string(result.Kind),
		"request_id":      result.RequestID,
		"conversation_id": result.ConversationID,
	}

	switch result.Kind {
	case turns.KindCompleted:
		if result.Usage != nil {
			metadata["usage"] = result.Usage
		}
		return textResult(result.Text, metadata), nil
	case turns.KindWaiting:
		metadata["status"] = "waiting"
		if result.ProviderResponseID != "" {
			metadata["provider_response_id"] = result.ProviderResponseID
		}
		text := fmt.Sprintf("Request %s is still processing. Call advice with request_id and check_status=true to continue waiting.", result.RequestID)
		return textResult(text, metadata), nil
	default:
		rpc := mapError(result.Err)
		return nil, rpc
	}
}

// ==================== idiom tool ====================

type idiomArgs struct {
	Task            string          `json:"task"`
	CurrentApproach string          `json:"current_approach"`
	Context         json.RawMessage `json:"context"`
	Model           string          `json:"model"`
}

func (s *Server) callIdiom(ctx context.Context, raw json.RawMessage) (*ToolResult, *RPCError) {
	var args idiomArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rpcError(CodeInvalidParams, "invalid idiom arguments: %v", err)
	}
	if args.Task == "" {
		return nil, rpcError(CodeInvalidParams, "task cannot be empty")
	}

	text, err := s.advisor.Ask(ctx, idiom.Query{
		Task:            args.Task,
		CurrentApproach: args.CurrentApproach,
		Context:         contextString(args.Context),
		Model:           args.Model,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return textResult(text, nil), nil
}

// contextString flattens the free-form context argument, which may be a
// JSON string or an object.
func contextString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	pretty, err := json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}
