package advice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roelfdiedericks/modelgate/internal/backoff"
	"github.com/roelfdiedericks/modelgate/internal/limits"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
	"github.com/roelfdiedericks/modelgate/internal/tokens"
)

// MaxIterations caps caller-driven advice loops. Exceeding it returns a
// terminal message without an upstream call.
const MaxIterations = 3

// maxRetries is the number of same-model retries on rate-limit or
// transient upstream failures.
const maxRetries = 2

const maxIterationsMessage = "Max iterations reached. Consolidate the advice already gathered and proceed with implementation."

// Options carries the per-call knobs of an advice request.
type Options struct {
	ReasoningEffort   string
	Verbosity         string
	AdditionalContext string
	Iteration         int // defaults to 1
	Temperature       *float32
	MaxTokens         int
	SystemPrompt      string
}

// Meta describes how the advice was produced.
type Meta struct {
	Status         string        `json:"status"` // "complete" or "needs_context"
	Model          string        `json:"model"`
	Confidence     *float64      `json:"confidence,omitempty"`
	ContextRequest []ContextItem `json:"context_request,omitempty"`
	Questions      []string      `json:"questions,omitempty"`
	FallbackMode   bool          `json:"fallback_mode,omitempty"`
	Usage          *llm.Usage    `json:"usage,omitempty"`
}

// Result is a completed advice call.
type Result struct {
	Text string
	Meta Meta
}

// Engine is the single-shot advice path: capability probe, structured
// call with text fallback, retry, and provider concurrency caps.
type Engine struct {
	registry   *models.Registry
	generators map[models.Provider]llm.Generator
	limits     *limits.Table
	caps       *capabilityCache
	retry      backoff.Policy
}

// NewEngine wires the engine over the configured provider clients.
func NewEngine(registry *models.Registry, generators map[models.Provider]llm.Generator, table *limits.Table) *Engine {
	return &Engine{
		registry:   registry,
		generators: generators,
		limits:     table,
		caps:       newCapabilityCache(),
		retry:      backoff.RetryPolicy(),
	}
}

// Advise runs one advice call against modelID.
func (e *Engine) Advise(ctx context.Context, modelID, prompt string, opts Options) (*Result, error) {
	if prompt == "" {
		return nil, fmt.Errorf("advice: prompt cannot be empty")
	}
	iteration := opts.Iteration
	if iteration == 0 {
		iteration = 1
	}
	if iteration > MaxIterations {
		L_info("advice: iteration cap reached", "model", modelID, "iteration", iteration)
		return &Result{
			Text: maxIterationsMessage,
			Meta: Meta{Status: "complete", Model: modelID},
		}, nil
	}

	if opts.AdditionalContext != "" {
		prompt = prompt + "\n\nAdditional Context Provided:\n" + opts.AdditionalContext
	}

	result, structured, err := e.Generate(ctx, modelID, prompt, Schema, opts)
	if err != nil {
		return nil, err
	}

	out := &Result{Meta: Meta{Status: "complete", Model: modelID, Usage: result.Usage}}
	if !structured {
		out.Text = result.Text
		out.Meta.FallbackMode = true
		return out, nil
	}

	reply, err := parseStructuredReply(result.Text)
	if err != nil {
		// The upstream accepted the schema but the payload is still off.
		// Serve it as text rather than failing the call.
		L_warn("advice: structured reply unparseable, serving as text", "model", modelID, "error", err)
		out.Text = result.Text
		out.Meta.FallbackMode = true
		return out, nil
	}

	out.Text = reply.Response
	out.Meta.Confidence = reply.Confidence
	out.Meta.Questions = reply.Questions
	if reply.ResponseType == "needs_context" {
		out.Meta.Status = "needs_context"
		out.Meta.ContextRequest = reply.ContextNeeded
	}
	return out, nil
}

// Generate is the schema-aware generation primitive shared by the advice
// and idiom tools. It resolves the model, probes structured support,
// issues the structured call with text fallback, and retries transient
// failures. The bool result reports whether the structured path was used.
func (e *Engine) Generate(ctx context.Context, modelID, prompt string, schema json.RawMessage, opts Options) (*llm.Result, bool, error) {
	desc, err := e.registry.Resolve(modelID)
	if err != nil {
		return nil, false, err
	}
	gen, ok := e.generators[desc.Provider]
	if !ok {
		return nil, false, fmt.Errorf("advice: no client for provider %s", desc.Provider)
	}

	tl := TimeoutsFor(desc.Name)
	callOpts := e.buildCallOptions(desc, opts)

	L_debug("advice: generating",
		"model", modelID,
		"class", ClassifyModel(desc.Name),
		"prompt_tokens_est", tokens.Get().Count(prompt))

	if schema != nil && e.structuredSupported(ctx, desc, gen) {
		result, err := e.callWithRetry(ctx, desc.Provider, tl.Structured, func(cctx context.Context) (*llm.Result, error) {
			return gen.GenerateStructured(cctx, desc.Name, prompt, schema, callOpts)
		})
		if err == nil {
			return result, true, nil
		}
		pe := llm.Classify(err)
		if pe.Type != llm.ErrorTypeFormat && pe.Type != llm.ErrorTypeTimeout {
			return nil, false, pe
		}
		// Structured path rejected at call time. Remember and fall
		// through to text for this call.
		L_warn("advice: structured call failed, falling back to text",
			"model", modelID, "error_type", pe.Type)
		e.caps.invalidate(desc.ID)
	}

	result, err := e.callWithRetry(ctx, desc.Provider, tl.Overall, func(cctx context.Context) (*llm.Result, error) {
		return gen.GenerateText(cctx, desc.Name, prompt, callOpts)
	})
	if err != nil {
		return nil, false, llm.Classify(err)
	}
	return result, false, nil
}

// buildCallOptions folds user knobs over descriptor defaults. Reasoning
// effort only applies to reasoning models; verbosity only to the gpt-5
// family (the client enforces the prefix).
func (e *Engine) buildCallOptions(desc models.Descriptor, opts Options) llm.Options {
	out := llm.Options{
		SystemPrompt: opts.SystemPrompt,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
	}
	if desc.Reasoning {
		out.ReasoningEffort = opts.ReasoningEffort
		if out.ReasoningEffort == "" {
			out.ReasoningEffort = desc.Defaults.ReasoningEffort
		}
		out.Verbosity = opts.Verbosity
		if out.Verbosity == "" {
			out.Verbosity = desc.Defaults.Verbosity
		}
	}
	return out
}

var probeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {"ok": {"type": "boolean"}},
  "required": ["ok"],
  "additionalProperties": false
}`)

const probePrompt = `Reply with the JSON object {"ok": true}.`

// structuredSupported consults the capability cache, probing on a miss.
// Concurrent misses for the same model share one probe. A probe that
// cannot reach a verdict falls back to the descriptor's static flag
// without caching.
func (e *Engine) structuredSupported(ctx context.Context, desc models.Descriptor, gen llm.Generator) bool {
	return e.caps.resolve(ctx, desc.ID, func(ctx context.Context) (bool, bool) {
		tl := TimeoutsFor(desc.Name)
		pctx, cancel := context.WithTimeout(ctx, tl.Probe)
		defer cancel()

		if err := e.limits.Acquire(pctx, desc.Provider); err != nil {
			return desc.StructuredOutput, false
		}
		defer e.limits.Release(desc.Provider)

		start := time.Now()
		_, err := gen.GenerateStructured(pctx, desc.Name, probePrompt, probeSchema, llm.Options{MaxTokens: 64})
		if err == nil {
			L_debug("advice: probe succeeded", "model", desc.ID, "elapsed", time.Since(start))
			return true, true
		}
		pe := llm.Classify(err)
		if pe.Type == llm.ErrorTypeFormat || pe.Type == llm.ErrorTypeTimeout {
			L_debug("advice: probe negative", "model", desc.ID, "error_type", pe.Type)
			return false, true
		}
		L_warn("advice: probe inconclusive, using static capability",
			"model", desc.ID, "static", desc.StructuredOutput, "error", err)
		return desc.StructuredOutput, false
	})
}

// callWithRetry issues fn with a per-attempt timeout and provider slot,
// retrying rate-limit and overload failures with jittered backoff. The
// slot is released before each backoff sleep.
func (e *Engine) callWithRetry(ctx context.Context, provider models.Provider, timeout time.Duration, fn func(context.Context) (*llm.Result, error)) (*llm.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.retry.Sleep(ctx, attempt); err != nil {
				return nil, err
			}
		}
		if err := e.limits.Acquire(ctx, provider); err != nil {
			return nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(cctx)
		cancel()
		e.limits.Release(provider)

		if err == nil {
			return result, nil
		}
		lastErr = err
		pe := llm.Classify(err)
		if !llm.Retryable(pe.Type) {
			return nil, pe
		}
		L_warn("advice: retryable upstream failure",
			"provider", provider, "attempt", attempt, "error_type", pe.Type, "error", err)
	}
	return nil, llm.Classify(lastErr)
}
