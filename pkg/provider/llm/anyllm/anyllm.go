// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the rewriter access to every hosted and local backend that library
// speaks.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/copyedit/pkg/provider/llm"
	"github.com/MrWong99/copyedit/pkg/types"
)

// backends maps a lower-cased backend name to its constructor. Without an
// API key option each backend reads its usual environment variable
// (ANTHROPIC_API_KEY, GEMINI_API_KEY and so on); local backends default to
// their standard localhost address.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider implements llm.Provider on top of an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

// New creates a Provider for the named backend and model. opts are passed to
// the backend unchanged.
//
// Unknown backends, an empty model and backends that refuse to start (for
// example a missing API key) are reported as [types.ErrConfiguration].
func New(backend string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(backend))
	ctor, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: %w: unsupported backend %q (supported: %s)",
			types.ErrConfiguration, backend, strings.Join(Backends(), ", "))
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %w: model must not be empty", types.ErrConfiguration)
	}

	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %w: create %s backend: %w", types.ErrConfiguration, name, err)
	}
	return &Provider{backend: b, name: name, model: model}, nil
}

// Complete implements llm.Provider. Every backend failure is reported as
// [types.ErrUpstream], as is a completion cut short by the token limit.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w: %w", p.name, types.ErrUpstream, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w: empty choices in response", p.name, types.ErrUpstream)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return nil, fmt.Errorf("anyllm: %s: %w: completion truncated by token limit", p.name, types.ErrUpstream)
	}
	result := &llm.CompletionResponse{
		Content: choice.Message.ContentString(),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
// JSONMode is not forwarded: response-format support differs per backend and
// the rewrite adapter tolerates fenced or prefixed JSON anyway.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	return params
}

// convertMessage converts an llm.Message to anyllm.Message.
func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content}
}

// modelLimits lists context and output limits per model family. Entries are
// matched in order against the lower-cased model name, so more specific
// families must precede their generic catch-alls.
var modelLimits = []struct {
	match     func(string) bool
	window    int
	maxOutput int
}{
	{prefix("gpt-4o"), 128_000, 16_384},
	{prefix("gpt-4.1"), 1_047_576, 32_768},
	{prefix("gpt-4-turbo"), 128_000, 4_096},
	{prefix("gpt-4"), 8_192, 4_096},
	{prefix("gpt-3.5-turbo"), 16_385, 4_096},
	{prefix("o1-mini"), 128_000, 65_536},
	{prefix("o1"), 200_000, 100_000},
	{prefix("o3"), 200_000, 100_000},
	{contains("claude-3-opus"), 200_000, 4_096},
	{prefix("claude"), 200_000, 8_192},
	{contains("gemini-1.5-pro"), 2_097_152, 8_192},
	{contains("gemini-1.5-flash"), 1_048_576, 8_192},
	{contains("gemini-2"), 1_048_576, 8_192},
	{prefix("gemini"), 128_000, 8_192},
	{prefix("deepseek"), 64_000, 8_192},
	{prefix("mistral"), 32_000, 8_192},
}

func prefix(p string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, p) }
}

func contains(p string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, p) }
}

// modelCapabilities returns ModelCapabilities based on known model names.
// Unknown models receive sensible defaults.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		ContextWindow:   128_000,
		MaxOutputTokens: 4_096,
	}
	lower := strings.ToLower(model)
	for _, l := range modelLimits {
		if l.match(lower) {
			caps.ContextWindow = l.window
			caps.MaxOutputTokens = l.maxOutput
			break
		}
	}
	return caps
}
