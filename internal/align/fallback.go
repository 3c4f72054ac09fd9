package align

import (
	"log/slog"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MrWong99/copyedit/internal/snippet"
	"github.com/MrWong99/copyedit/pkg/types"
)

// AutoDetectedReason is the reason attached to synthesised changes.
const AutoDetectedReason = "auto-detected change"

// FindMissing returns one change per run of text inserted between original
// and final that no located change covers. An inserted run is covered when
// it overlaps a located span; a zero-width span covers a run it touches.
// Deleted runs have no anchor in final and are not reported. A failing diff
// yields no extra changes.
func FindMissing(original, final string, located []types.Change) []types.Change {
	return findMissing(original, final, located, diff)
}

func findMissing(original, final string, located []types.Change, df diffFunc) (extra []types.Change) {
	if original == final {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("align: fallback diff failed", "panic", r)
			extra = nil
		}
	}()

	var spans []types.Span
	for _, c := range located {
		if c.Loc != nil {
			spans = append(spans, *c.Loc)
		}
	}

	n := 0
	for _, d := range df(original, final, true) {
		l := len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			n += l
		case diffmatchpatch.DiffInsert:
			run := types.Span{Start: n, End: n + l}
			n += l
			if covered(run, spans) {
				continue
			}
			before, after := snippet.Around(final, run)
			extra = append(extra, types.Change{
				Type:          types.TypeOther,
				Severity:      types.SeverityRecommended,
				Reason:        AutoDetectedReason,
				Before:        "",
				After:         d.Text,
				ContextBefore: before,
				ContextAfter:  after,
				Loc:           &run,
			})
		}
	}
	return extra
}

func covered(run types.Span, spans []types.Span) bool {
	for _, sp := range spans {
		if sp.IsZeroWidth() {
			if run.Start <= sp.Start && sp.Start <= run.End {
				return true
			}
			continue
		}
		if sp.Overlaps(run) {
			return true
		}
	}
	return false
}
