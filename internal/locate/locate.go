// Package locate recovers exact spans for changes whose position is only
// described by approximate before/after/context strings, as reported by a
// language model.
//
// The algorithm proceeds in stages:
//
//  1. Pure deletions (empty after text) are anchored as a zero-width gap
//     between the tail of context_before and the head of context_after,
//     first literally and then on the alphanumeric-normalised text.
//
//  2. Every literal occurrence of the trimmed after text is scored by how well
//     the surrounding window agrees with the reported contexts: the longest
//     common normalised suffix (before) and prefix (after), capped and
//     expressed as a ratio. An empty context scores a neutral 0.5. Exact hits
//     earn a flat bonus of 1.0.
//
//  3. Without a literal hit, a case-insensitive search (bonus 0.5) and then a
//     punctuation- and whitespace-tolerant search (bonus 0.25) are tried.
//
// The highest score wins; ties go to the leftmost candidate.
package locate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/copyedit/internal/snippet"
	"github.com/MrWong99/copyedit/pkg/types"
)

const (
	defaultWindow = 40
	contextCap    = 30

	neutralScore = 0.5
)

// Strategy names the search that produced a candidate.
type Strategy string

const (
	StrategyExact      Strategy = "exact"
	StrategyFold       Strategy = "case-insensitive"
	StrategyNormalized Strategy = "normalized"
	StrategyGap        Strategy = "gap"
	StrategyEndOfText  Strategy = "end-of-text"
)

var bonus = map[Strategy]float64{
	StrategyExact:      1.0,
	StrategyFold:       0.5,
	StrategyNormalized: 0.25,
}

// Candidate is a scored span.
type Candidate struct {
	Span     types.Span
	Score    float64
	Strategy Strategy
}

// Option is a functional option for configuring a [Locator].
type Option func(*Locator)

// WithWindow sets how many bytes of text on each side of a candidate are
// compared against the reported contexts. Default: 40.
func WithWindow(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.window = n
		}
	}
}

// Locator finds spans for changes. It is read-only after construction and
// safe for concurrent use.
type Locator struct {
	window int
}

// New returns a [Locator] configured with the supplied options.
func New(opts ...Option) *Locator {
	l := &Locator{window: defaultWindow}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Locate returns the most likely span of c in text, or nil when c cannot be
// anchored.
func (l *Locator) Locate(text string, c types.Change) *types.Span {
	cand, ok := l.Best(text, c)
	if !ok {
		return nil
	}
	return &cand.Span
}

// LocateAfter is [Locator.Locate] for a change produced by rewriting prev
// into text. It additionally recognises insertions at the very end of the
// text: when c is typed insert-at-end, or text strictly extends prev, and c
// has no trailing context while text ends with its after text, the span is
// taken directly from the tail of text.
func (l *Locator) LocateAfter(prev, text string, c types.Change) *types.Span {
	cand, ok := l.BestAfter(prev, text, c)
	if !ok {
		return nil
	}
	return &cand.Span
}

// BestAfter is [Locator.Best] with the end-of-text shortcut of
// [Locator.LocateAfter]. A shortcut hit is reported with
// [StrategyEndOfText] and a score of 1.
func (l *Locator) BestAfter(prev, text string, c types.Change) (Candidate, bool) {
	if sp, ok := endOfText(prev, text, c); ok {
		return Candidate{Span: sp, Score: 1, Strategy: StrategyEndOfText}, true
	}
	return l.Best(text, c)
}

func endOfText(prev, text string, c types.Change) (types.Span, bool) {
	if c.After == "" || strings.TrimSpace(c.ContextAfter) != "" {
		return types.Span{}, false
	}
	extends := len(text) > len(prev) && strings.HasPrefix(text, prev)
	if c.Type != types.TypeInsertAtEnd && !extends {
		return types.Span{}, false
	}
	if !strings.HasSuffix(text, c.After) {
		return types.Span{}, false
	}
	return types.Span{Start: max(0, len(text)-len(c.After)), End: len(text)}, true
}

// Best returns the winning candidate for c in text together with its score.
func (l *Locator) Best(text string, c types.Change) (Candidate, bool) {
	search := strings.TrimSpace(c.After)
	if search == "" {
		sp, ok := gap(text, c.ContextBefore, c.ContextAfter)
		return Candidate{Span: sp, Score: 1, Strategy: StrategyGap}, ok
	}

	for _, s := range []Strategy{StrategyExact, StrategyFold, StrategyNormalized} {
		spans := find(text, search, s)
		if len(spans) == 0 {
			continue
		}
		best := Candidate{Score: -1}
		for _, sp := range spans {
			score := l.score(text, sp, c) + bonus[s]
			// Strictly greater keeps the leftmost candidate on ties.
			if score > best.Score {
				best = Candidate{Span: sp, Score: score, Strategy: s}
			}
		}
		return best, true
	}
	return Candidate{}, false
}

func (l *Locator) score(text string, sp types.Span, c types.Change) float64 {
	before := snippet.Before(text, sp.Start, l.window)
	after := snippet.After(text, sp.End, l.window)
	return l.sideScore(before, c.ContextBefore, true) + l.sideScore(after, c.ContextAfter, false)
}

// sideScore compares a text window with a reported context. Before-windows
// are compared from their end (common suffix), after-windows from their start
// (common prefix).
func (l *Locator) sideScore(window, context string, suffix bool) float64 {
	ctx := []rune(snippet.Normalize(context))
	if len(ctx) == 0 {
		return neutralScore
	}
	win := []rune(snippet.Normalize(window))
	limit := min(contextCap, len(ctx))

	common := 0
	for common < limit && common < len(win) {
		var a, b rune
		if suffix {
			a, b = win[len(win)-1-common], ctx[len(ctx)-1-common]
		} else {
			a, b = win[common], ctx[common]
		}
		if a != b {
			break
		}
		common++
	}
	return float64(common) / float64(limit)
}

// find enumerates the spans of search in text under strategy s.
func find(text, search string, s Strategy) []types.Span {
	switch s {
	case StrategyExact:
		var spans []types.Span
		for off := 0; off <= len(text)-len(search); {
			i := strings.Index(text[off:], search)
			if i < 0 {
				break
			}
			start := off + i
			spans = append(spans, types.Span{Start: start, End: start + len(search)})
			// Advance one rune so overlapping occurrences are found too.
			_, size := utf8.DecodeRuneInString(text[start:])
			off = start + max(size, 1)
		}
		return spans
	case StrategyFold:
		return regexSpans(text, `(?i)`+regexp.QuoteMeta(search))
	case StrategyNormalized:
		words := strings.Fields(snippet.Simplify(search))
		if len(words) == 0 {
			return nil
		}
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		return regexSpans(text, `(?i)`+strings.Join(words, `[\s\p{P}]+`))
	default:
		return nil
	}
}

func regexSpans(text, pattern string) []types.Span {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	var spans []types.Span
	for _, m := range re.FindAllStringIndex(text, -1) {
		if m[1] > m[0] {
			spans = append(spans, types.Span{Start: m[0], End: m[1]})
		}
	}
	return spans
}

// gap anchors a pure deletion between the two contexts.
func gap(text, before, after string) (types.Span, bool) {
	if strings.TrimSpace(before) == "" && strings.TrimSpace(after) == "" {
		return types.Span{}, false
	}

	if i := strings.Index(text, before+after); i >= 0 {
		p := i + len(before)
		return types.Span{Start: p, End: p}, true
	}

	tail := lastRunes(snippet.Normalize(before), contextCap)
	head := firstRunes(snippet.Normalize(after), contextCap)
	if tail == "" && head == "" {
		return types.Span{}, false
	}

	norm, offsets := normalizeWithOffsets(text)
	i := strings.Index(norm, tail+head)
	if i < 0 {
		return types.Span{}, false
	}
	// offsets is indexed by byte position in norm.
	var p int
	switch {
	case head != "":
		p = offsets[i+len(tail)].start
	default:
		p = offsets[i+len(tail)-1].end
	}
	return types.Span{Start: p, End: p}, true
}

type runeOffset struct{ start, end int }

// normalizeWithOffsets is [snippet.Normalize] that also records, for every
// byte of the normalised string, the source rune's byte range in text.
func normalizeWithOffsets(text string) (string, []runeOffset) {
	var b strings.Builder
	offsets := make([]runeOffset, 0, len(text))
	for i, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		lr := unicode.ToLower(r)
		n := utf8.RuneLen(lr)
		src := runeOffset{start: i, end: i + utf8.RuneLen(r)}
		for range n {
			offsets = append(offsets, src)
		}
		b.WriteRune(lr)
	}
	return b.String(), offsets
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[len(r)-n:]
	}
	return string(r)
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
