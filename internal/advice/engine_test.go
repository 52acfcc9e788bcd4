package advice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/modelgate/internal/limits"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// fakeGen scripts provider behavior per call kind. Probe calls are
// recognized by the canned probe prompt.
type fakeGen struct {
	provider models.Provider

	mu              sync.Mutex
	probeCalls      int
	structuredCalls int
	textCalls       int

	probeErr      error
	structuredFn  func(model, prompt string) (*llm.Result, error)
	textFn        func(model, prompt string) (*llm.Result, error)

	lastOpts llm.Options
}

func (f *fakeGen) Provider() models.Provider { return f.provider }

func (f *fakeGen) GenerateText(ctx context.Context, model, prompt string, opts llm.Options) (*llm.Result, error) {
	f.mu.Lock()
	f.textCalls++
	f.lastOpts = opts
	fn := f.textFn
	f.mu.Unlock()
	if fn != nil {
		return fn(model, prompt)
	}
	return &llm.Result{Text: "plain text advice"}, nil
}

func (f *fakeGen) GenerateStructured(ctx context.Context, model, prompt string, schema json.RawMessage, opts llm.Options) (*llm.Result, error) {
	f.mu.Lock()
	if prompt == probePrompt {
		f.probeCalls++
		err := f.probeErr
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &llm.Result{Text: `{"ok": true}`}, nil
	}
	f.structuredCalls++
	f.lastOpts = opts
	fn := f.structuredFn
	f.mu.Unlock()
	if fn != nil {
		return fn(model, prompt)
	}
	return &llm.Result{Text: `{"response_type": "complete", "response": "structured advice", "confidence": 0.9}`}, nil
}

func newTestEngine(t *testing.T, gen *fakeGen) *Engine {
	t.Helper()
	registry := models.NewRegistry(map[models.Provider]models.Binding{
		gen.provider: {Provider: gen.provider, APIKey: "test-key"},
	})
	return NewEngine(registry, map[models.Provider]llm.Generator{gen.provider: gen}, limits.NewTable())
}

func TestAdviseStructured(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	result, err := engine.Advise(context.Background(), "openai:gpt-5", "how do I shard this?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "structured advice", result.Text)
	assert.Equal(t, "complete", result.Meta.Status)
	require.NotNil(t, result.Meta.Confidence)
	assert.InDelta(t, 0.9, *result.Meta.Confidence, 0.001)
	assert.False(t, result.Meta.FallbackMode)
	assert.Equal(t, 1, gen.probeCalls)
}

func TestGenerateAppliesDescriptorDefaults(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	_, structured, err := engine.Generate(context.Background(), "openai:gpt-5", "prompt", Schema, Options{})
	require.NoError(t, err)
	assert.True(t, structured)

	gen.mu.Lock()
	opts := gen.lastOpts
	gen.mu.Unlock()
	assert.Equal(t, "medium", opts.ReasoningEffort)
	assert.Equal(t, "medium", opts.Verbosity)
}

func TestGenerateUserKnobsOverrideDefaults(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	_, _, err := engine.Generate(context.Background(), "openai:gpt-5", "prompt", Schema, Options{
		ReasoningEffort: "high",
		Verbosity:       "low",
	})
	require.NoError(t, err)

	gen.mu.Lock()
	opts := gen.lastOpts
	gen.mu.Unlock()
	assert.Equal(t, "high", opts.ReasoningEffort)
	assert.Equal(t, "low", opts.Verbosity)
}

func TestAdviseNeedsContext(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	gen.structuredFn = func(model, prompt string) (*llm.Result, error) {
		return &llm.Result{Text: `{"response_type": "needs_context", "response": "show me the schema", "context_needed": [{"type": "code", "description": "the table DDL"}]}`}, nil
	}
	engine := newTestEngine(t, gen)

	result, err := engine.Advise(context.Background(), "openai:gpt-5", "how do I shard this?", Options{})
	require.NoError(t, err)
	assert.Equal(t, "needs_context", result.Meta.Status)
	require.Len(t, result.Meta.ContextRequest, 1)
	assert.Equal(t, "code", result.Meta.ContextRequest[0].Type)
}

func TestAdviseFallsBackToTextOnFormatError(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	gen.structuredFn = func(model, prompt string) (*llm.Result, error) {
		return nil, &llm.ProviderError{Type: llm.ErrorTypeFormat, Err: errors.New("response_format unsupported")}
	}
	engine := newTestEngine(t, gen)

	result, err := engine.Advise(context.Background(), "openai:gpt-5", "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "plain text advice", result.Text)
	assert.True(t, result.Meta.FallbackMode)

	// The failure flipped the cache: the next call skips straight to text.
	_, err = engine.Advise(context.Background(), "openai:gpt-5", "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, gen.structuredCalls)
	assert.Equal(t, 2, gen.textCalls)
}

func TestAdviseNegativeProbeCached(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderXAI}
	gen.probeErr = &llm.ProviderError{Type: llm.ErrorTypeFormat, Err: errors.New("model output is not valid JSON")}
	engine := newTestEngine(t, gen)

	for i := 0; i < 3; i++ {
		result, err := engine.Advise(context.Background(), "xai:grok-4", "prompt", Options{})
		require.NoError(t, err)
		assert.True(t, result.Meta.FallbackMode)
	}
	assert.Equal(t, 1, gen.probeCalls, "negative probe result must be cached")
	assert.Equal(t, 0, gen.structuredCalls)
	assert.Equal(t, 3, gen.textCalls)
}

func TestConcurrentCallersShareOneProbe(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Advise(context.Background(), "openai:gpt-5", "prompt", Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, gen.probeCalls)
}

func TestAdviseIterationCap(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	result, err := engine.Advise(context.Background(), "openai:gpt-5", "prompt", Options{Iteration: 4})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Max iterations reached")
	assert.Equal(t, 0, gen.probeCalls)
	assert.Equal(t, 0, gen.structuredCalls)
	assert.Equal(t, 0, gen.textCalls)
}

func TestAdviseEmptyPrompt(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	_, err := engine.Advise(context.Background(), "openai:gpt-5", "", Options{})
	require.Error(t, err)
}

func TestAdviseModelNotFound(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	engine := newTestEngine(t, gen)

	_, err := engine.Advise(context.Background(), "anthropic:claude-opus-4-5", "prompt", Options{})
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	var calls int32
	gen.textFn = func(model, prompt string) (*llm.Result, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("error, status code: 429, message: slow down")
		}
		return &llm.Result{Text: "eventually"}, nil
	}
	engine := newTestEngine(t, gen)

	result, _, err := engine.Generate(context.Background(), "openai:gpt-4o", "prompt", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "eventually", result.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	gen.textFn = func(model, prompt string) (*llm.Result, error) {
		return nil, errors.New("error, status code: 429, message: slow down")
	}
	engine := newTestEngine(t, gen)

	_, _, err := engine.Generate(context.Background(), "openai:gpt-4o", "prompt", nil, Options{})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.ErrorTypeRateLimit, pe.Type)
	assert.Equal(t, 3, gen.textCalls)
}

func TestGenerateNonRetryableFailsFast(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	gen.textFn = func(model, prompt string) (*llm.Result, error) {
		return nil, errors.New("error, status code: 401, message: Incorrect API key provided")
	}
	engine := newTestEngine(t, gen)

	_, _, err := engine.Generate(context.Background(), "openai:gpt-4o", "prompt", nil, Options{})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.ErrorTypeAuth, pe.Type)
	assert.Equal(t, 1, gen.textCalls)
}

func TestAdditionalContextAugmentsPrompt(t *testing.T) {
	gen := &fakeGen{provider: models.ProviderOpenAI}
	var sawPrompt string
	gen.structuredFn = func(model, prompt string) (*llm.Result, error) {
		sawPrompt = prompt
		return &llm.Result{Text: `{"response_type": "complete", "response": "ok"}`}, nil
	}
	engine := newTestEngine(t, gen)

	_, err := engine.Advise(context.Background(), "openai:gpt-5", "base prompt", Options{AdditionalContext: "stack trace here"})
	require.NoError(t, err)
	assert.Contains(t, sawPrompt, "base prompt")
	assert.Contains(t, sawPrompt, "Additional Context Provided:\nstack trace here")
}

func TestClassifyModelTimeouts(t *testing.T) {
	assert.Equal(t, ClassFast, ClassifyModel("gpt-5-mini"))
	assert.Equal(t, ClassFast, ClassifyModel("gemini-2.5-flash"))
	assert.Equal(t, ClassFast, ClassifyModel("o4-mini"))
	assert.Equal(t, ClassFast, ClassifyModel("claude-haiku-4-5"))
	assert.Equal(t, ClassReasoning, ClassifyModel("gpt-5"))
	assert.Equal(t, ClassReasoning, ClassifyModel("o3"))
	assert.Equal(t, ClassReasoning, ClassifyModel("grok-4"))
	assert.Equal(t, ClassStandard, ClassifyModel("gpt-4o"))
	assert.Equal(t, ClassStandard, ClassifyModel("grok-3"))

	tl := TimeoutsFor("gpt-5")
	assert.Equal(t, classTimeouts[ClassReasoning], tl)
}
