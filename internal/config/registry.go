package config

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/copyedit/pkg/provider/llm"
	"github.com/MrWong99/copyedit/pkg/types"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLLM] when no factory
// has been registered under the requested provider name. It is a
// [types.ErrConfiguration].
var ErrProviderNotRegistered = fmt.Errorf("config: llm provider not registered: %w", types.ErrConfiguration)

// LLMFactory constructs an LLM provider from its config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// Registry maps provider names to LLM constructors. Names are matched
// case-insensitively. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]LLMFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]LLMFactory)}
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterLLM registers factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey(name)] = factory
}

// CreateLLM builds the provider described by entry. Factory failures are
// returned with the provider name and model attached.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[registryKey(entry.Name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrProviderNotRegistered,
			entry.Name, strings.Join(r.LLMNames(), ", "))
	}

	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create llm %s (model %q): %w", entry.Name, entry.Model, err)
	}
	if p == nil {
		return nil, fmt.Errorf("config: %w: factory for %s returned no provider", types.ErrConfiguration, entry.Name)
	}
	return p, nil
}

// LLMNames returns the registered provider names in sorted order.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
