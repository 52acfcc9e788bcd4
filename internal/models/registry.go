package models

import (
	"fmt"
	"sort"
	"strings"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// Binding connects a provider to its API credentials. A binding exists iff
// the api key is non-empty; bindings are created once at startup and never
// mutated.
type Binding struct {
	Provider Provider
	APIKey   string
	BaseURL  string
}

// Registry resolves model identifiers to descriptors and owns the provider
// bindings, so callers depend only on model ids.
type Registry struct {
	byID     map[string]Descriptor
	bindings map[Provider]Binding
}

// NewRegistry builds a registry from the static catalog plus the provider
// bindings derived from the environment. A model is live iff its provider
// has a binding.
func NewRegistry(bindings map[Provider]Binding) *Registry {
	r := &Registry{
		byID:     make(map[string]Descriptor, len(catalog)),
		bindings: make(map[Provider]Binding, len(bindings)),
	}
	for _, desc := range catalog {
		r.byID[desc.ID] = desc
	}
	for p, b := range bindings {
		if b.APIKey == "" {
			continue
		}
		r.bindings[p] = b
	}

	L_info("models: registry created",
		"models", len(r.byID),
		"configuredProviders", len(r.bindings))
	return r
}

// NotFoundError reports an id that does not resolve to a live model.
// Available lists all live ids; Suggested narrows those to the provider
// prefix the caller used, when recognized.
type NotFoundError struct {
	ID        string
	Available []string
	Suggested []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q not found (%d models available)", e.ID, len(e.Available))
}

// Resolve returns the descriptor for a live model id.
func (r *Registry) Resolve(id string) (Descriptor, error) {
	provider, _, err := ParseID(id)
	if err != nil {
		return Descriptor{}, err
	}

	desc, ok := r.byID[id]
	if ok && r.Configured(desc.Provider) {
		return desc, nil
	}

	nf := &NotFoundError{ID: id, Available: r.List()}
	if KnownProvider(string(provider)) {
		prefix := string(provider) + ":"
		for _, live := range nf.Available {
			if strings.HasPrefix(live, prefix) {
				nf.Suggested = append(nf.Suggested, live)
			}
		}
	}
	return Descriptor{}, nf
}

// List returns all live model ids, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.byID))
	for id, desc := range r.byID {
		if r.Configured(desc.Provider) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListDetailed returns every catalog descriptor with its live flag, sorted
// by id. Used by the detailed models tool output.
func (r *Registry) ListDetailed() []DetailedModel {
	out := make([]DetailedModel, 0, len(r.byID))
	for id, desc := range r.byID {
		out = append(out, DetailedModel{
			ID:         id,
			Descriptor: desc,
			Configured: r.Configured(desc.Provider),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DetailedModel pairs a descriptor with whether its provider is configured.
type DetailedModel struct {
	ID         string
	Descriptor Descriptor
	Configured bool
}

// Configured reports whether the provider has a binding.
func (r *Registry) Configured(p Provider) bool {
	_, ok := r.bindings[p]
	return ok
}

// ConfiguredProviders returns providers with a binding, in display order.
func (r *Registry) ConfiguredProviders() []Provider {
	var out []Provider
	for _, p := range Providers() {
		if r.Configured(p) {
			out = append(out, p)
		}
	}
	return out
}
