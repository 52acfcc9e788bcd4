package llm

import (
	"fmt"

	"github.com/roelfdiedericks/modelgate/internal/models"
)

// NewGenerator builds the client for a provider binding. The OpenAI
// binding also satisfies DeferredGenerator; callers that need the
// deferred path type-assert for it.
func NewGenerator(b models.Binding) (Generator, error) {
	switch b.Provider {
	case models.ProviderOpenAI:
		return NewOpenAIDeferred(b.APIKey, b.BaseURL)
	case models.ProviderGoogle:
		return NewGeminiGenerator(b.APIKey, b.BaseURL)
	case models.ProviderAnthropic:
		return NewAnthropicGenerator(b.APIKey, b.BaseURL)
	case models.ProviderXAI:
		return NewXAIGenerator(b.APIKey)
	default:
		return nil, fmt.Errorf("llm: no client for provider %q", b.Provider)
	}
}

// BuildAll creates one generator per configured binding. A binding whose
// client cannot be constructed fails the whole call: a half-configured
// gateway is worse than a startup error.
func BuildAll(bindings map[models.Provider]models.Binding) (map[models.Provider]Generator, error) {
	out := make(map[models.Provider]Generator, len(bindings))
	for p, b := range bindings {
		if b.APIKey == "" {
			continue
		}
		g, err := NewGenerator(b)
		if err != nil {
			return nil, fmt.Errorf("llm: build %s client: %w", p, err)
		}
		out[p] = g
	}
	return out, nil
}
