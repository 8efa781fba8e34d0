package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Provider IDs used across the core.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// modelPrefixes maps a model-name prefix to the provider that serves it.
var modelPrefixes = []struct {
	prefix   string
	provider string
}{
	{"claude-", ProviderAnthropic},
	{"gpt-", ProviderOpenAI},
	{"o1-", ProviderOpenAI},
	{"o3-", ProviderOpenAI},
	{"gemini-", ProviderGoogle},
	{"llama-", ProviderOllama},
	{"llama", ProviderOllama},
}

// ResolveModel maps a model string to a provider id by prefix, falling
// back to defaultProvider when no prefix matches.
func ResolveModel(model, defaultProvider string) string {
	lower := strings.ToLower(strings.TrimSpace(model))
	for _, p := range modelPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.provider
		}
	}
	return defaultProvider
}

// Registry holds the configured providers keyed by id.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
}

// NewRegistry creates an empty registry. defaultProvider is used when a
// model string matches no known prefix.
func NewRegistry(defaultProvider string) *Registry {
	return &Registry{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", id)
	}
	return p, nil
}

// ForModel resolves a model string to its provider.
func (r *Registry) ForModel(model string) (Provider, error) {
	return r.Get(ResolveModel(model, r.defaultProvider))
}

// IDs lists the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
