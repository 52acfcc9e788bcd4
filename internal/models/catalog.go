// Package models holds the static model catalog and the runtime registry
// that binds catalog entries to configured providers.
package models

import (
	"fmt"
	"strings"
)

// Provider identifies an upstream model-serving API.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderAnthropic Provider = "anthropic"
	ProviderXAI       Provider = "xai"
)

// Providers returns all known providers in display order.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderGoogle, ProviderAnthropic, ProviderXAI}
}

// KnownProvider reports whether s names a supported provider.
func KnownProvider(s string) bool {
	switch Provider(s) {
	case ProviderOpenAI, ProviderGoogle, ProviderAnthropic, ProviderXAI:
		return true
	}
	return false
}

// Defaults carries per-model default generation hints.
type Defaults struct {
	ReasoningEffort string // minimal, low, medium, high
	Verbosity       string // low, medium, high
}

// Capabilities is advisory metadata surfaced by the models tool only.
// Speed and Intelligence are 1-5 ratings.
type Capabilities struct {
	Speed         int
	Intelligence  int
	ContextWindow int
	Vision        bool
	Audio         bool
}

// Descriptor describes one registered model. Immutable per process.
type Descriptor struct {
	ID               string
	Provider         Provider
	Name             string
	Reasoning        bool // accepts a reasoning-effort hint
	StructuredOutput bool // static default; runtime probing may override
	Defaults         Defaults
	Capabilities     Capabilities
}

// ParseID splits "provider:name". Both sides must be non-empty.
func ParseID(id string) (Provider, string, error) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", &InvalidIDError{ID: id}
	}
	return Provider(id[:idx]), id[idx+1:], nil
}

// InvalidIDError reports a model identifier that is not "provider:name".
type InvalidIDError struct {
	ID string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid model identifier %q (expected provider:name)", e.ID)
}

func d(provider Provider, name string, m Descriptor) Descriptor {
	m.Provider = provider
	m.Name = name
	m.ID = string(provider) + ":" + name
	return m
}

// catalog is the registry table: one descriptor per (provider, name).
// Additions and removals are compile-time changes.
var catalog = []Descriptor{
	// OpenAI
	d(ProviderOpenAI, "gpt-5", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Defaults:         Defaults{ReasoningEffort: "medium", Verbosity: "medium"},
		Capabilities:     Capabilities{Speed: 2, Intelligence: 5, ContextWindow: 400000, Vision: true},
	}),
	d(ProviderOpenAI, "gpt-5-mini", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Defaults:         Defaults{ReasoningEffort: "low", Verbosity: "low"},
		Capabilities:     Capabilities{Speed: 4, Intelligence: 4, ContextWindow: 400000, Vision: true},
	}),
	d(ProviderOpenAI, "gpt-4o", Descriptor{
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 3, Intelligence: 4, ContextWindow: 128000, Vision: true, Audio: true},
	}),
	d(ProviderOpenAI, "gpt-4o-mini", Descriptor{
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 5, Intelligence: 3, ContextWindow: 128000, Vision: true},
	}),
	d(ProviderOpenAI, "o3", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Defaults:         Defaults{ReasoningEffort: "medium"},
		Capabilities:     Capabilities{Speed: 1, Intelligence: 5, ContextWindow: 200000, Vision: true},
	}),
	d(ProviderOpenAI, "o4-mini", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Defaults:         Defaults{ReasoningEffort: "medium"},
		Capabilities:     Capabilities{Speed: 3, Intelligence: 4, ContextWindow: 200000, Vision: true},
	}),

	// Google
	d(ProviderGoogle, "gemini-2.5-pro", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 2, Intelligence: 5, ContextWindow: 1048576, Vision: true, Audio: true},
	}),
	d(ProviderGoogle, "gemini-2.5-flash", Descriptor{
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 5, Intelligence: 4, ContextWindow: 1048576, Vision: true, Audio: true},
	}),
	d(ProviderGoogle, "gemini-2.0-flash", Descriptor{
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 5, Intelligence: 3, ContextWindow: 1048576, Vision: true},
	}),

	// Anthropic
	d(ProviderAnthropic, "claude-opus-4-5", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 2, Intelligence: 5, ContextWindow: 200000, Vision: true},
	}),
	d(ProviderAnthropic, "claude-sonnet-4-5", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 3, Intelligence: 5, ContextWindow: 200000, Vision: true},
	}),
	d(ProviderAnthropic, "claude-haiku-4-5", Descriptor{
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 5, Intelligence: 3, ContextWindow: 200000, Vision: true},
	}),

	// xAI
	d(ProviderXAI, "grok-4", Descriptor{
		Reasoning:        true,
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 2, Intelligence: 5, ContextWindow: 256000, Vision: true},
	}),
	d(ProviderXAI, "grok-4-fast", Descriptor{
		StructuredOutput: true,
		Capabilities:     Capabilities{Speed: 4, Intelligence: 4, ContextWindow: 2000000},
	}),
	d(ProviderXAI, "grok-3-mini", Descriptor{
		Reasoning:    true,
		Defaults:     Defaults{ReasoningEffort: "low"},
		Capabilities: Capabilities{Speed: 5, Intelligence: 3, ContextWindow: 131072},
	}),
}

// Catalog returns the full registry table, configured or not.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}
