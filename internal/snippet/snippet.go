// Package snippet holds the small text helpers shared by the rule engine, the
// locator and the diff aligner: rune-safe slicing around a span, context
// sampling and the alphanumeric normalisation used for fuzzy matching.
package snippet

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/copyedit/pkg/types"
)

// ContextLen is the maximum byte length of a sampled context snippet.
const ContextLen = 30

// Floor moves i backwards to the nearest rune boundary in s.
func Floor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// Ceil moves i forwards to the nearest rune boundary in s.
func Ceil(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// Before returns up to n bytes of s ending at i, trimmed to a rune boundary.
func Before(s string, i, n int) string {
	i = Floor(s, i)
	return s[Ceil(s, i-n):i]
}

// After returns up to n bytes of s starting at i, trimmed to a rune boundary.
func After(s string, i, n int) string {
	i = Ceil(s, i)
	return s[i:Floor(s, i+n)]
}

// Around samples the context on both sides of sp in text, each at most
// [ContextLen] bytes long.
func Around(text string, sp types.Span) (before, after string) {
	return Before(text, sp.Start, ContextLen), After(text, sp.End, ContextLen)
}

// Normalize lower-cases s and drops everything except letters and digits.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Simplify strips punctuation and collapses whitespace runs to one space,
// keeping case. It is the looser of the two fuzzy variants the locator tries.
func Simplify(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case unicode.IsPunct(r):
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
