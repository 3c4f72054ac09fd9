package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/copyedit/internal/align"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/rules"
	"github.com/MrWong99/copyedit/pkg/types"
)

// run holds the mutable state of a single [Pipeline.ProcessMode] call.
type run struct {
	p     *Pipeline
	rules *rules.Engine
	mode  Mode

	input   string
	current string
	changes []types.Change
	passes  int
}

// loop executes passes until the text reaches a fixed point or the pass
// limit is hit.
func (r *run) loop(ctx context.Context) error {
	for r.passes < r.p.maxPasses {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: pass %d: %w", r.passes+1, err)
		}
		r.passes++

		stable, err := r.pass(ctx)
		if err != nil {
			return err
		}
		if stable {
			return nil
		}
	}
	observe.Logger(ctx).Debug("pipeline: pass limit reached", "passes", r.passes)
	return nil
}

// pass runs the rule engine and, in full mode, the LLM stage once. It
// reports whether the LLM left the text unchanged.
func (r *run) pass(ctx context.Context) (stable bool, err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.pass",
		trace.WithAttributes(attribute.Int("pass", r.passes)))
	defer span.End()
	log := observe.Logger(ctx).With("pass", r.passes)

	afterRules, ruleChanges := r.rules.Apply(r.current)
	if dropped := align.ProjectAll(r.changes, r.current, afterRules); dropped > 0 {
		log.Debug("pipeline: spans lost to rule edits", "dropped", dropped)
	}
	r.changes = append(r.changes, ruleChanges...)
	r.p.metrics.RecordChanges(ctx, "rules", len(ruleChanges), 0)

	if r.mode == ModeRules {
		r.current = afterRules
		return true, nil
	}

	afterLLM, raw, err := r.rewrite(ctx, afterRules)
	if err != nil {
		return false, err
	}

	stable = afterLLM == afterRules
	if stable {
		// Changes without a textual delta describe nothing.
		raw = nil
	} else if dropped := align.ProjectAll(r.changes, afterRules, afterLLM); dropped > 0 {
		log.Debug("pipeline: spans lost to llm edits", "dropped", dropped)
	}

	unlocated := 0
	for i := range raw {
		raw[i].Loc = r.p.locator.LocateAfter(afterRules, afterLLM, raw[i])
		if raw[i].Loc == nil {
			unlocated++
		}
	}
	r.changes = append(r.changes, raw...)
	r.p.metrics.RecordChanges(ctx, "llm", len(raw)-unlocated, unlocated)

	log.Debug("pipeline: pass complete",
		"rule_changes", len(ruleChanges), "llm_changes", len(raw),
		"unlocated", unlocated, "stable", stable)
	span.SetAttributes(attribute.Bool("stable", stable))

	r.current = afterLLM
	return stable, nil
}

// rewrite calls the LLM stage and records its latency and outcome.
func (r *run) rewrite(ctx context.Context, text string) (string, []types.Change, error) {
	start := time.Now()
	revised, changes, err := r.p.rewriter.Rewrite(ctx, text)
	r.p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", r.p.providerName)))

	status := "ok"
	if err != nil {
		status = types.ErrorKind(classify(ctx, err))
		r.p.metrics.RecordProviderError(ctx, r.p.providerName, status)
	}
	r.p.metrics.RecordProviderRequest(ctx, r.p.providerName, status)
	if err != nil {
		return "", nil, fmt.Errorf("pipeline: pass %d: %w", r.passes, err)
	}
	return revised, changes, nil
}

// finish runs the diff fallback over the whole run and finalises the change
// list.
func (r *run) finish(ctx context.Context) types.Result {
	extra := align.FindMissing(r.input, r.current, r.changes)
	r.p.metrics.RecordChanges(ctx, "fallback", len(extra), 0)
	return types.Result{
		RevisedText: r.current,
		Changes:     finalize(append(r.changes, extra...)),
	}
}
