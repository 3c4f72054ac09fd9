package pipeline

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/MrWong99/copyedit/pkg/types"
)

// finalize reconciles the collected changes into the published list.
//
// Changes arrive in the order they were recorded: rule changes of a pass
// before its LLM changes, earlier passes before later ones and fallback
// changes last. That order is the priority. An exact span duplicate of a
// kept change is dropped. A change whose span overlaps a kept span loses its
// location but stays in the list, so the edit is still reported. The result
// is ordered by start offset with unlocated changes last in their original
// order, and IDs are assigned from c1.
func finalize(changes []types.Change) []types.Change {
	seen := make(map[types.Span]struct{}, len(changes))
	var kept []types.Span
	out := make([]types.Change, 0, len(changes))
	for _, c := range changes {
		if c.Located() {
			sp := *c.Loc
			if _, dup := seen[sp]; dup {
				continue
			}
			if slices.ContainsFunc(kept, sp.Overlaps) {
				c.Loc = nil
			} else {
				seen[sp] = struct{}{}
				kept = append(kept, sp)
			}
		}
		out = append(out, c)
	}

	slices.SortStableFunc(out, func(a, b types.Change) int {
		switch {
		case a.Loc == nil && b.Loc == nil:
			return 0
		case a.Loc == nil:
			return 1
		case b.Loc == nil:
			return -1
		default:
			return cmp.Compare(a.Loc.Start, b.Loc.Start)
		}
	})

	for i := range out {
		out[i].ID = "c" + strconv.Itoa(i+1)
	}
	return out
}
