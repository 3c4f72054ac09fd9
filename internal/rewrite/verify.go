package rewrite

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// tokenLCS returns the length of the longest common subsequence of two token
// slices. Standard O(m×n) DP over a rolling row; paragraphs are short.
func tokenLCS(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Drift measures how far revised departs from original on the word level:
// 0 for identical token sequences, 1 when no word survives. Mechanical
// copyediting touches few words, so a high value hints at paraphrasing.
func Drift(original, revised string) float64 {
	a := strings.Fields(normalizeToken(original))
	b := strings.Fields(normalizeToken(revised))
	if len(a)+len(b) == 0 {
		return 0
	}
	return 1 - 2*float64(tokenLCS(a, b))/float64(len(a)+len(b))
}

// normalizeToken lowercases s and strips punctuation that copyediting is
// expected to touch, so quote or comma fixes do not count as drift.
func normalizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', ';', ':', '!', '?', '"', '\'', '“', '”', '‘', '’', '(', ')', '—', '–':
			return ' '
		}
		return r
	}, strings.ToLower(s))
}

// plausibleSpelling reports whether after is a believable spelling fix for
// before: either the strings are close (Jaro-Winkler) or they share a Double
// Metaphone code.
func (r *Rewriter) plausibleSpelling(before, after string) bool {
	b := strings.ToLower(strings.TrimSpace(before))
	a := strings.ToLower(strings.TrimSpace(after))
	if b == "" || a == "" {
		return true
	}
	if matchr.JaroWinkler(b, a, false) >= r.spellingSimilarity {
		return true
	}
	bp, bs := matchr.DoubleMetaphone(b)
	ap, as := matchr.DoubleMetaphone(a)
	for _, x := range []string{bp, bs} {
		if x == "" {
			continue
		}
		if x == ap || x == as {
			return true
		}
	}
	return false
}
