// Package rewrite implements the language-model copyediting pass.
//
// The [Rewriter] sends a paragraph to an [llm.Provider] with a fixed
// instruction prompt that restricts the model to mechanical corrections and
// asks for a strict JSON object carrying the revised text plus an itemised
// list of changes. The reported changes carry approximate before/after and
// context strings only; locating them in the revised text is left to the
// caller.
//
// Failures are classified with the error kinds from [types]: a missing
// provider is [types.ErrConfiguration], transport or API failures are
// [types.ErrUpstream] and unusable responses are [types.ErrParse]. The
// adapter never retries.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	llm "github.com/MrWong99/copyedit/pkg/provider/llm"
	"github.com/MrWong99/copyedit/pkg/types"
)

const (
	defaultTemperature        = 0.1
	defaultMaxTokens          = 4096
	defaultDriftWarning       = 0.5
	defaultSpellingSimilarity = 0.75
)

// SystemPrompt is the fixed instruction sent with every request.
const SystemPrompt = `You are a meticulous copyeditor. You receive a single paragraph and return it with mechanical corrections applied.

Allowed corrections:
- spelling and obvious typos
- grammar errors such as agreement, tense consistency and article use
- punctuation, including smart quotes, em dashes and comma usage
- capitalization, hyphenation and number formatting
- spacing and consistency of terms within the paragraph
- citation formatting

Forbidden:
- Do NOT paraphrase, reword, shorten or expand the text.
- Do NOT change meaning, tone, facts or content.
- Do NOT reorder sentences.

Your output must be idempotent: running it again on your own revised text must produce no further changes.

Respond with ONLY a JSON object with exactly these two fields (no markdown, no prose):
{
  "revised_text": "<the full corrected paragraph>",
  "changes": [
    {
      "type": "spelling|grammar|punctuation|capitalization|hyphenation|numbers|consistency|citation-format|spacing|insert-at-end|other",
      "severity": "required|recommended|optional|uncertain",
      "reason": "<short explanation>",
      "before": "<original text of the edited fragment>",
      "after": "<replacement text exactly as it appears in revised_text>",
      "context_before": "<up to 30 characters of revised_text immediately before the fragment>",
      "context_after": "<up to 30 characters of revised_text immediately after the fragment>"
    }
  ]
}

Rules for the changes list:
- revised_text must reflect every entry in changes, and every edit in revised_text must have an entry.
- Omit entries where before equals after.
- Use an empty after for pure deletions.
- Use type "insert-at-end" when you append text at the very end of the paragraph.
- Mark spelling fixes you are not sure about with severity "uncertain".

If the paragraph needs no corrections, return it unchanged with an empty changes array.`

// Option is a functional option for configuring a [Rewriter].
type Option func(*Rewriter)

// WithTemperature sets the LLM sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(r *Rewriter) {
		r.temperature = temp
	}
}

// WithMaxTokens caps the completion length. The value is further clipped to
// the provider's advertised maximum. Default: 4096.
func WithMaxTokens(n int) Option {
	return func(r *Rewriter) {
		r.maxTokens = n
	}
}

// WithDriftWarning sets the token-level divergence ratio between input and
// revised text above which a warning is logged. Default: 0.5.
func WithDriftWarning(ratio float64) Option {
	return func(r *Rewriter) {
		r.driftWarning = ratio
	}
}

// WithSpellingSimilarity sets the minimum Jaro-Winkler similarity between the
// before and after of a spelling change for it to keep its reported
// severity. Less similar fixes that do not sound alike either are downgraded
// to uncertain. Default: 0.75.
func WithSpellingSimilarity(threshold float64) Option {
	return func(r *Rewriter) {
		r.spellingSimilarity = threshold
	}
}

// Rewriter runs the LLM pass. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model, construct the [llm.Provider] with that model configured.
type Rewriter struct {
	llm                llm.Provider
	temperature        float64
	maxTokens          int
	driftWarning       float64
	spellingSimilarity float64
}

// New returns a [Rewriter] backed by provider. A nil provider is accepted;
// every call then fails with [types.ErrConfiguration].
func New(provider llm.Provider, opts ...Option) *Rewriter {
	r := &Rewriter{
		llm:                provider,
		temperature:        defaultTemperature,
		maxTokens:          defaultMaxTokens,
		driftWarning:       defaultDriftWarning,
		spellingSimilarity: defaultSpellingSimilarity,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rewrite asks the model to copyedit text and returns the revised text with
// the reported changes. None of the returned changes carries a span.
func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, []types.Change, error) {
	if r.llm == nil {
		return "", nil, fmt.Errorf("rewrite: %w: no llm provider configured", types.ErrConfiguration)
	}

	maxTokens := r.maxTokens
	caps := r.llm.Capabilities()
	if caps.MaxOutputTokens > 0 && (maxTokens <= 0 || maxTokens > caps.MaxOutputTokens) {
		maxTokens = caps.MaxOutputTokens
	}

	req := llm.CompletionRequest{
		SystemPrompt: SystemPrompt,
		Temperature:  r.temperature,
		MaxTokens:    maxTokens,
		JSONMode:     true,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: text},
		},
	}

	resp, err := r.llm.Complete(ctx, req)
	switch {
	case err != nil && ctx.Err() != nil:
		return "", nil, fmt.Errorf("rewrite: complete: %w", ctx.Err())
	case err != nil && (errors.Is(err, types.ErrConfiguration) || errors.Is(err, types.ErrUpstream)):
		return "", nil, fmt.Errorf("rewrite: complete: %w", err)
	case err != nil:
		return "", nil, fmt.Errorf("rewrite: complete: %w: %w", types.ErrUpstream, err)
	case resp == nil:
		return "", nil, fmt.Errorf("rewrite: complete: %w: empty response", types.ErrUpstream)
	}

	revised, changes, err := parseResponse(resp.Content)
	if err != nil {
		return "", nil, err
	}

	for i := range changes {
		if changes[i].Type == types.TypeSpelling && !r.plausibleSpelling(changes[i].Before, changes[i].After) {
			changes[i].Severity = types.SeverityUncertain
		}
	}

	if d := Drift(text, revised); d > r.driftWarning {
		slog.Warn("rewrite: revised text diverges heavily from input",
			"drift", d, "input_len", len(text), "revised_len", len(revised))
	}

	return revised, changes, nil
}
