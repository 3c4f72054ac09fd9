// Package rules implements the deterministic rewrite pass of the copyediting
// pipeline.
//
// An [Engine] applies an ordered list of regex rules to a paragraph. Because
// the engine performs every substitution itself, each resulting
// [types.Change] carries an exact span in the post-engine text. Rules run in
// a fixed priority order:
//
//  1. em-dash spacing normalisation
//  2. whole-word typo correction (case-preserving)
//  3. opening smart quotes
//  4. closing smart quotes
//  5. collapsing runs of two or more spaces
//
// Matches are applied front to back; every replacement shifts the spans of
// changes recorded earlier that lie at or after the edit point.
package rules

import (
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/copyedit/internal/snippet"
	"github.com/MrWong99/copyedit/pkg/types"
)

// Rule is a single regex rewrite.
type Rule struct {
	// Name identifies the rule in logs and metrics.
	Name string

	// Pattern selects the text to rewrite. When the pattern has a capture
	// group, only the first group is replaced; otherwise the whole match is.
	Pattern *regexp.Regexp

	// Replace computes the replacement for the selected text. Returning the
	// input unchanged marks the match as a no-op and records no change.
	Replace func(matched string) string

	Type   types.ChangeType
	Reason string
}

// DefaultTypos is the built-in dictionary of common misspellings, keyed by the
// lower-case misspelling.
var DefaultTypos = map[string]string{
	"accomodate":  "accommodate",
	"acheive":     "achieve",
	"adress":      "address",
	"arguement":   "argument",
	"beleive":     "believe",
	"calender":    "calendar",
	"definately":  "definitely",
	"enviroment":  "environment",
	"existance":   "existence",
	"goverment":   "government",
	"independant": "independent",
	"occassion":   "occasion",
	"occured":     "occurred",
	"occurence":   "occurrence",
	"recieve":     "receive",
	"recieved":    "received",
	"seperate":    "separate",
	"succesful":   "successful",
	"teh":         "the",
	"tommorow":    "tomorrow",
	"untill":      "until",
	"wierd":       "weird",
}

const wordClass = `[\p{L}\p{N}_]`

var (
	emDashPattern     = regexp.MustCompile(`[ \t]*(?:--|—)[ \t]*`)
	openQuotePattern  = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(")` + wordClass)
	closeQuotePattern = regexp.MustCompile(wordClass + `(")`)
	spacesPattern     = regexp.MustCompile(` {2,}`)
)

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithTypos merges extra misspelling → correction pairs into the typo
// dictionary. Keys are matched case-insensitively as whole words.
func WithTypos(typos map[string]string) Option {
	return func(e *Engine) {
		for k, v := range typos {
			e.typos[strings.ToLower(k)] = v
		}
	}
}

// Engine applies the rule set. It is immutable after construction and safe
// for concurrent use.
type Engine struct {
	typos map[string]string
	rules []Rule
}

// New returns an [Engine] with the default rule set.
func New(opts ...Option) *Engine {
	e := &Engine{typos: maps.Clone(DefaultTypos)}
	for _, o := range opts {
		o(e)
	}
	e.rules = e.buildRules()
	return e
}

// Rules returns the ordered rule list.
func (e *Engine) Rules() []Rule {
	return slices.Clone(e.rules)
}

func (e *Engine) buildRules() []Rule {
	rules := []Rule{{
		Name:    "em-dash",
		Pattern: emDashPattern,
		Replace: func(string) string { return "—" },
		Type:    types.TypePunctuation,
		Reason:  "Use a closed em dash",
	}}

	if len(e.typos) > 0 {
		words := slices.Collect(maps.Keys(e.typos))
		// Longer words first so alternation prefers the longest match.
		slices.SortFunc(words, func(a, b string) int {
			if d := len(b) - len(a); d != 0 {
				return d
			}
			return strings.Compare(a, b)
		})
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		rules = append(rules, Rule{
			Name:    "typo",
			Pattern: regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`),
			Replace: e.fixTypo,
			Type:    types.TypeSpelling,
			Reason:  "Correct common misspelling",
		})
	}

	return append(rules,
		Rule{
			Name:    "open-quote",
			Pattern: openQuotePattern,
			Replace: func(string) string { return "“" },
			Type:    types.TypePunctuation,
			Reason:  "Use a curly opening quote",
		},
		Rule{
			Name:    "close-quote",
			Pattern: closeQuotePattern,
			Replace: func(string) string { return "”" },
			Type:    types.TypePunctuation,
			Reason:  "Use a curly closing quote",
		},
		Rule{
			Name:    "spaces",
			Pattern: spacesPattern,
			Replace: func(string) string { return " " },
			Type:    types.TypeSpacing,
			Reason:  "Collapse repeated spaces",
		},
	)
}

// fixTypo looks up the correction for word and carries over its casing: an
// all-caps word stays all-caps, a capitalised word stays capitalised.
func (e *Engine) fixTypo(word string) string {
	fix, ok := e.typos[strings.ToLower(word)]
	if !ok {
		return word
	}
	first, _ := utf8.DecodeRuneInString(word)
	switch {
	case len(word) > 1 && word == strings.ToUpper(word):
		return strings.ToUpper(fix)
	case unicode.IsUpper(first):
		r, n := utf8.DecodeRuneInString(fix)
		return string(unicode.ToUpper(r)) + fix[n:]
	default:
		return fix
	}
}

// Apply runs every rule over text and returns the revised text together with
// one change per applied replacement. Spans refer to the returned text.
// Clean text comes back unchanged with no changes.
func (e *Engine) Apply(text string) (string, []types.Change) {
	var changes []types.Change
	for _, r := range e.rules {
		text, changes = applyRule(r, text, changes)
	}
	for i := range changes {
		changes[i].ContextBefore, changes[i].ContextAfter = snippet.Around(text, *changes[i].Loc)
	}
	return text, changes
}

func applyRule(r Rule, text string, changes []types.Change) (string, []types.Change) {
	matches := r.Pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, changes
	}

	var b strings.Builder
	b.Grow(len(text))
	last, shift := 0, 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if len(m) >= 4 && m[2] >= 0 {
			start, end = m[2], m[3]
		}
		before := text[start:end]
		after := r.Replace(before)
		if after == before {
			continue
		}

		// Position of the edit in the text as rewritten so far.
		editStart := start + shift
		editEnd := end + shift
		delta := len(after) - len(before)
		shiftChanges(changes, editStart, editEnd, delta)

		changes = append(changes, types.Change{
			Type:     r.Type,
			Severity: types.SeverityRecommended,
			Reason:   r.Reason,
			Before:   before,
			After:    after,
			Loc:      &types.Span{Start: editStart, End: editStart + len(after)},
		})

		b.WriteString(text[last:start])
		b.WriteString(after)
		last = end
		shift += delta
	}
	b.WriteString(text[last:])
	return b.String(), changes
}

// shiftChanges moves recorded spans after an edit that replaced
// [editStart, editEnd) with delta more bytes. Spans at or after the edit end
// move entirely; spans overlapping the edit only stretch or shrink their end.
func shiftChanges(changes []types.Change, editStart, editEnd, delta int) {
	if delta == 0 {
		return
	}
	for i := range changes {
		loc := changes[i].Loc
		if loc == nil {
			continue
		}
		switch {
		case loc.Start >= editEnd:
			loc.Start += delta
			loc.End += delta
		case loc.End > editStart:
			loc.End = max(loc.Start, loc.End+delta)
		}
	}
}
