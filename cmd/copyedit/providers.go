package main

import (
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/copyedit/internal/config"
	"github.com/MrWong99/copyedit/internal/resilience"
	"github.com/MrWong99/copyedit/pkg/provider/llm"
	"github.com/MrWong99/copyedit/pkg/provider/llm/anyllm"
	"github.com/MrWong99/copyedit/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires every compiled-in LLM backend into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai talks to the Chat Completions API directly and also serves any
	// OpenAI-compatible endpoint through base_url.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if raw := optString(entry.Options, "timeout"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("openai: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.ResolveAPIKey(), entry.Model, opts...)
	})

	// The remaining any-llm backends share the same pattern: optional API key
	// plus optional base URL. openai and ollama are registered separately.
	for _, providerName := range anyllm.Backends() {
		if providerName == "openai" || providerName == "ollama" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := entry.ResolveAPIKey(); key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// buildLLM creates the configured primary provider and its fallbacks. Every
// backend is guarded by a circuit breaker. It returns nil when no provider is
// configured.
func buildLLM(cfg *config.Config, reg *config.Registry) (*resilience.LLMFallback, error) {
	entry := cfg.Providers.LLM
	if entry.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)

	fb := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for i, fe := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(fe)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d (%q): %w", i, fe.Name, err)
		}
		fb.AddFallback(fallbackName(fe, i), p)
		slog.Info("provider created", "kind", "llm_fallback", "name", fe.Name, "model", fe.Model)
	}
	return fb, nil
}

// fallbackName keeps breaker names unique when the same vendor appears more
// than once with different models.
func fallbackName(e config.ProviderEntry, i int) string {
	if e.Model == "" {
		return fmt.Sprintf("%s#%d", e.Name, i+1)
	}
	return fmt.Sprintf("%s/%s", e.Name, e.Model)
}

// optString returns opts[key] if it holds a string, or "".
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
