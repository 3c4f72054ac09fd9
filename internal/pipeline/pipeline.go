// Package pipeline drives a paragraph through repeated rule and LLM passes and
// reconciles every reported edit into one list of located changes.
//
// A run proceeds as follows:
//
//  1. The input is validated: it must contain non-whitespace text and stay
//     within the configured character limit.
//  2. Each pass applies the deterministic rule engine, then the LLM rewriter.
//     Spans already recorded are projected through both edits so they keep
//     pointing at the same text.
//  3. Changes reported by the LLM carry no offsets; they are anchored in the
//     rewritten text by the change locator.
//  4. Passes repeat until the LLM leaves the text untouched or the pass limit
//     is reached.
//  5. Finalisation adds changes for edits nobody reported, drops exact span
//     duplicates, sorts by position and renumbers IDs from c1.
//
// A [Pipeline] holds no per-run state and is safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/copyedit/internal/locate"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/rewrite"
	"github.com/MrWong99/copyedit/internal/rules"
	"github.com/MrWong99/copyedit/pkg/types"
)

const (
	// DefaultMaxPasses bounds the number of rule+LLM passes per run.
	DefaultMaxPasses = 3

	// DefaultMaxInputChars is the largest accepted input, counted in runes.
	DefaultMaxInputChars = 4000
)

// Mode selects which stages run.
type Mode string

const (
	// ModeFull runs the rule engine and the LLM rewriter.
	ModeFull Mode = "full"

	// ModeRules runs the rule engine only. No LLM call is made.
	ModeRules Mode = "rules"
)

// ParseMode converts a wire value into a [Mode]. The empty string selects
// [ModeFull].
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeRules:
		return ModeRules, nil
	default:
		return "", fmt.Errorf("pipeline: %w: unknown mode %q", types.ErrInvalidInput, s)
	}
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithRules replaces the default rule engine.
func WithRules(e *rules.Engine) Option {
	return func(p *Pipeline) {
		p.initRules = e
	}
}

// WithRewriter sets the LLM stage. Without one, [ModeFull] runs fail with
// [types.ErrConfiguration].
func WithRewriter(r *rewrite.Rewriter) Option {
	return func(p *Pipeline) {
		p.rewriter = r
	}
}

// WithLocator replaces the default change locator.
func WithLocator(l *locate.Locator) Option {
	return func(p *Pipeline) {
		p.locator = l
	}
}

// WithMaxPasses sets the pass limit. Values below 1 are ignored.
func WithMaxPasses(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPasses = n
		}
	}
}

// WithMaxInputChars sets the input limit in runes. Values below 1 are
// ignored.
func WithMaxInputChars(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxInputChars = n
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithProviderName labels LLM metrics with the configured provider name.
func WithProviderName(name string) Option {
	return func(p *Pipeline) {
		p.providerName = name
	}
}

// Pipeline is the copyediting orchestrator.
type Pipeline struct {
	rules         atomic.Pointer[rules.Engine]
	initRules     *rules.Engine
	rewriter      *rewrite.Rewriter
	locator       *locate.Locator
	metrics       *observe.Metrics
	providerName  string
	maxPasses     int
	maxInputChars int
}

// New constructs a [Pipeline]. The rule engine and locator default to their
// package defaults; the LLM stage must be supplied with [WithRewriter].
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		providerName:  "llm",
		maxPasses:     DefaultMaxPasses,
		maxInputChars: DefaultMaxInputChars,
	}
	for _, o := range opts {
		o(p)
	}
	if p.initRules == nil {
		p.initRules = rules.New()
	}
	p.rules.Store(p.initRules)
	if p.locator == nil {
		p.locator = locate.New()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// SetRules swaps the rule engine. Runs already in progress keep the engine
// they started with.
func (p *Pipeline) SetRules(e *rules.Engine) {
	if e != nil {
		p.rules.Store(e)
	}
}

// Process runs text through the full pipeline. It is shorthand for
// ProcessMode(ctx, text, ModeFull).
func (p *Pipeline) Process(ctx context.Context, text string) (types.Result, error) {
	return p.ProcessMode(ctx, text, ModeFull)
}

// ProcessMode runs text through the stages selected by mode.
//
// Errors wrap one of [types.ErrInvalidInput], [types.ErrConfiguration],
// [types.ErrUpstream], [types.ErrParse] or [types.ErrTimeout]. No partial
// result is returned alongside an error.
func (p *Pipeline) ProcessMode(ctx context.Context, text string, mode Mode) (types.Result, error) {
	if err := p.validate(text); err != nil {
		return types.Result{}, err
	}
	if mode == ModeFull && p.rewriter == nil {
		return types.Result{}, fmt.Errorf("pipeline: %w: llm stage not configured", types.ErrConfiguration)
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("mode", string(mode)),
			attribute.Int("input_len", len(text)),
		),
	)
	defer span.End()

	r := &run{p: p, rules: p.rules.Load(), mode: mode, input: text, current: text}
	if err := r.loop(ctx); err != nil {
		err = classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, types.ErrorKind(err))
		return types.Result{}, err
	}

	res := r.finish(ctx)
	p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("mode", string(mode))))
	p.metrics.RecordPasses(ctx, string(mode), r.passes)
	span.SetAttributes(
		attribute.Int("passes", r.passes),
		attribute.Int("changes", len(res.Changes)),
	)

	observe.Logger(ctx).Debug("pipeline: run complete",
		"mode", mode, "passes", r.passes, "changes", len(res.Changes),
		"duration", time.Since(start))
	return res, nil
}

func (p *Pipeline) validate(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("pipeline: %w: text is not valid UTF-8", types.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("pipeline: %w: text is empty", types.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > p.maxInputChars {
		return fmt.Errorf("pipeline: %w: text has %d characters, limit is %d",
			types.ErrInvalidInput, n, p.maxInputChars)
	}
	return nil
}

// classify maps cancellation caused by an expired deadline onto
// [types.ErrTimeout]. Other errors are already classified by the stage that
// produced them.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, types.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pipeline: %w: %w", types.ErrTimeout, err)
	}
	return err
}
