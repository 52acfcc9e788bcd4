package llm

import (
	"github.com/roelfdiedericks/modelgate/internal/models"
)

// geminiBaseURL is Google's OpenAI-compatible endpoint for the Gemini API.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// NewGeminiGenerator creates a generator for Gemini models. Google exposes
// an OpenAI-compatible surface, so the chat client is reused with a
// different BaseURL.
func NewGeminiGenerator(apiKey, baseURL string) (*OpenAIGenerator, error) {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return NewOpenAIGenerator(models.ProviderGoogle, apiKey, baseURL)
}
