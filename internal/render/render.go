// Package render draws a copyedit result for a terminal.
//
// Located changes are highlighted in the revised text and tagged with their
// ID. A zero-width span marks a deletion point: the removed text no longer
// exists in the revised text, so a caret (‸) styled as a deletion is drawn at
// the gap instead. Overlapping spans are drawn once, for the first change by
// position. Unlocated changes only appear in the change list.
package render

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/copyedit/pkg/types"
)

// Caret marks a deletion point in the revised text.
const Caret = "‸"

var (
	insertColor = lipgloss.Color("#22C55E") // green
	deleteColor = lipgloss.Color("#EF4444") // red
	accentColor = lipgloss.Color("#D97706") // amber
	dimColor    = lipgloss.Color("#6B7280") // muted gray
)

// Renderer holds the styles used for output.
type Renderer struct {
	insert lipgloss.Style
	delete lipgloss.Style
	tag    lipgloss.Style
	title  lipgloss.Style
	dim    lipgloss.Style
	kind   lipgloss.Style
}

// Option configures a [Renderer].
type Option func(*Renderer)

// WithPlain disables all styling, for pipes and tests.
func WithPlain() Option {
	return func(r *Renderer) {
		plain := lipgloss.NewStyle()
		r.insert, r.delete, r.tag, r.title, r.dim, r.kind = plain, plain, plain, plain, plain, plain
	}
}

// New returns a [Renderer] with the default palette.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		insert: lipgloss.NewStyle().Foreground(insertColor).Underline(true),
		delete: lipgloss.NewStyle().Foreground(deleteColor).Bold(true),
		tag:    lipgloss.NewStyle().Foreground(dimColor),
		title:  lipgloss.NewStyle().Bold(true).Foreground(accentColor),
		dim:    lipgloss.NewStyle().Foreground(dimColor),
		kind:   lipgloss.NewStyle().Bold(true),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Result renders the annotated text followed by the change list.
func (r *Renderer) Result(res types.Result) string {
	var b strings.Builder
	b.WriteString(r.Text(res))
	b.WriteString("\n\n")
	b.WriteString(r.Changes(res.Changes))
	return b.String()
}

// Text returns the revised text with located changes highlighted.
func (r *Renderer) Text(res types.Result) string {
	text := res.RevisedText
	located := make([]types.Change, 0, len(res.Changes))
	for _, c := range res.Changes {
		if c.Loc != nil && c.Loc.Valid(len(text)) {
			located = append(located, c)
		}
	}
	slices.SortStableFunc(located, func(a, b types.Change) int {
		if d := a.Loc.Start - b.Loc.Start; d != 0 {
			return d
		}
		return a.Loc.End - b.Loc.End
	})

	var b strings.Builder
	pos := 0
	for _, c := range located {
		if c.Loc.Start < pos {
			continue
		}
		b.WriteString(text[pos:c.Loc.Start])
		if c.Loc.IsZeroWidth() {
			b.WriteString(r.delete.Render(Caret))
		} else {
			b.WriteString(r.insert.Render(text[c.Loc.Start:c.Loc.End]))
		}
		b.WriteString(r.tag.Render("[" + c.ID + "]"))
		pos = c.Loc.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

// Changes returns one line per change plus a summary line.
func (r *Renderer) Changes(changes []types.Change) string {
	var b strings.Builder
	unlocated := 0
	for _, c := range changes {
		where := "unlocated"
		if c.Loc == nil {
			unlocated++
		} else {
			where = c.Loc.String()
		}
		fmt.Fprintf(&b, "%s %s %s %s %s",
			r.tag.Render(fmt.Sprintf("%-4s", c.ID)),
			r.kind.Render(fmt.Sprintf("%-15s", c.Type)),
			r.dim.Render(fmt.Sprintf("%-11s", c.Severity)),
			r.dim.Render(fmt.Sprintf("%-9s", where)),
			r.edit(c),
		)
		if c.Reason != "" {
			b.WriteString(r.dim.Render("  " + c.Reason))
		}
		b.WriteByte('\n')
	}

	summary := fmt.Sprintf("%d changes", len(changes))
	if len(changes) == 1 {
		summary = "1 change"
	}
	if unlocated > 0 {
		summary += fmt.Sprintf(" (%d unlocated)", unlocated)
	}
	if len(changes) == 0 {
		summary = "No changes."
	}
	b.WriteString(r.title.Render(summary))
	return b.String()
}

func (r *Renderer) edit(c types.Change) string {
	before := r.delete.Render(quote(c.Before))
	after := r.insert.Render(quote(c.After))
	return before + " → " + after
}

// quote makes whitespace-only and empty edits visible.
func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
