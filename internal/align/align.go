// Package align maps spans between successive text states and detects edits
// that no reported change accounts for. Both rely on a character-level diff
// from github.com/sergi/go-diff.
package align

import (
	"log/slog"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/MrWong99/copyedit/pkg/types"
)

// diffFunc computes an edit script. semantic requests a cleanup pass that
// favours human-readable runs over a minimal script.
type diffFunc func(oldText, newText string, semantic bool) []diffmatchpatch.Diff

// diff computes the character-level edit script from oldText to newText.
// The timeout is disabled so identical inputs always yield identical scripts.
func diff(oldText, newText string, semantic bool) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMain(oldText, newText, false)
	if semantic {
		diffs = dmp.DiffCleanupSemantic(diffs)
	}
	return diffs
}

// mapOffset translates byte offset p in the old text to the new text. At a
// position where text was inserted, left places p before the insertion and
// !left after it. Offsets inside deleted text map to the deletion point.
func mapOffset(diffs []diffmatchpatch.Diff, p int, left bool) int {
	o, n := 0, 0
	for _, d := range diffs {
		l := len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			if p < o+l || (p == o+l && left) {
				return n + p - o
			}
			o += l
			n += l
		case diffmatchpatch.DiffDelete:
			if p < o+l {
				return n
			}
			o += l
		case diffmatchpatch.DiffInsert:
			if p == o && left {
				return n
			}
			n += l
		}
	}
	return n
}

// Projector re-expresses spans from one text state in another. It computes
// the diff once per text pair.
type Projector struct {
	diffs []diffmatchpatch.Diff
	same  bool
	ok    bool
}

// NewProjector prepares a projection from oldText to newText. A failing diff
// yields a Projector whose every projection is nil.
func NewProjector(oldText, newText string) *Projector {
	return newProjector(oldText, newText, diff)
}

func newProjector(oldText, newText string, df diffFunc) (p *Projector) {
	p = &Projector{same: oldText == newText, ok: true}
	if p.same {
		return p
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("align: diff failed", "panic", r)
			p.diffs, p.ok = nil, false
		}
	}()
	p.diffs = df(oldText, newText, false)
	return p
}

// Project maps sp into the new text. Start offsets are placed after text
// inserted at their boundary and end offsets before it, so a span never
// absorbs neighbouring insertions; zero-width spans stay before insertions.
// A non-empty span whose text was deleted collapses and yields nil.
func (p *Projector) Project(sp types.Span) *types.Span {
	if !p.ok || sp.Start < 0 || sp.End < sp.Start {
		return nil
	}
	if p.same {
		return &sp
	}
	if sp.IsZeroWidth() {
		at := mapOffset(p.diffs, sp.Start, true)
		return &types.Span{Start: at, End: at}
	}
	start := mapOffset(p.diffs, sp.Start, false)
	end := mapOffset(p.diffs, sp.End, true)
	if start >= end {
		return nil
	}
	return &types.Span{Start: start, End: end}
}

// Project re-expresses the span [oldStart, oldEnd) of oldText in newText, or
// returns nil when it cannot be projected.
func Project(oldStart, oldEnd int, oldText, newText string) *types.Span {
	if oldEnd > len(oldText) {
		return nil
	}
	return NewProjector(oldText, newText).Project(types.Span{Start: oldStart, End: oldEnd})
}

// ProjectAll moves the span of every located change from oldText to newText
// in place. Changes that can no longer be located keep their place in the
// slice but lose their span. It returns how many spans were dropped.
func ProjectAll(changes []types.Change, oldText, newText string) int {
	if oldText == newText {
		return 0
	}
	p := NewProjector(oldText, newText)
	dropped := 0
	for i := range changes {
		if changes[i].Loc == nil {
			continue
		}
		if sp := changes[i].Loc; sp.End > len(oldText) {
			changes[i].Loc = nil
		} else {
			changes[i].Loc = p.Project(*sp)
		}
		if changes[i].Loc == nil {
			dropped++
		}
	}
	return dropped
}
