// Package types defines the shared types used across all copyedit packages.
//
// These types form the lingua franca between the rule engine, the LLM rewrite
// adapter, the locator, the projector and the orchestrator. Each package keeps
// its own internal types; cross-cutting data structures live here to avoid
// circular imports.
//
// All offsets are byte offsets into a UTF-8 encoded Go string and always fall
// on rune boundaries.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChangeType classifies a single edit.
type ChangeType string

// Known change types. Values outside this set are coerced to [TypeOther]
// by [ParseChangeType].
const (
	TypeSpelling       ChangeType = "spelling"
	TypeGrammar        ChangeType = "grammar"
	TypePunctuation    ChangeType = "punctuation"
	TypeCapitalization ChangeType = "capitalization"
	TypeHyphenation    ChangeType = "hyphenation"
	TypeNumbers        ChangeType = "numbers"
	TypeConsistency    ChangeType = "consistency"
	TypeCitationFormat ChangeType = "citation-format"
	TypeSpacing        ChangeType = "spacing"
	TypeInsertAtEnd    ChangeType = "insert-at-end"
	TypeOther          ChangeType = "other"
)

var changeTypes = map[ChangeType]struct{}{
	TypeSpelling: {}, TypeGrammar: {}, TypePunctuation: {}, TypeCapitalization: {},
	TypeHyphenation: {}, TypeNumbers: {}, TypeConsistency: {}, TypeCitationFormat: {},
	TypeSpacing: {}, TypeInsertAtEnd: {}, TypeOther: {},
}

// ParseChangeType maps s onto a known [ChangeType]. Matching ignores case and
// surrounding whitespace; unknown values yield [TypeOther].
func ParseChangeType(s string) ChangeType {
	t := ChangeType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := changeTypes[t]; ok {
		return t
	}
	return TypeOther
}

// Severity expresses how strongly a change is recommended.
type Severity string

const (
	SeverityRequired    Severity = "required"
	SeverityRecommended Severity = "recommended"
	SeverityOptional    Severity = "optional"
	SeverityUncertain   Severity = "uncertain"
)

// ParseSeverity maps s onto a known [Severity]. Unknown values yield
// [SeverityRecommended].
func ParseSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityRequired, SeverityRecommended, SeverityOptional, SeverityUncertain:
		return v
	default:
		return SeverityRecommended
	}
}

// Span is a half-open byte range [Start, End) into a specific text state.
// Start == End denotes a zero-width span (a pure deletion point).
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the width of the span in bytes.
func (s Span) Len() int { return s.End - s.Start }

// IsZeroWidth reports whether the span marks a position rather than a range.
func (s Span) IsZeroWidth() bool { return s.Start == s.End }

// Valid reports whether the span is well-formed for a text of length n.
func (s Span) Valid(n int) bool { return 0 <= s.Start && s.Start <= s.End && s.End <= n }

// Overlaps reports whether two non-empty spans share at least one byte.
func (s Span) Overlaps(o Span) bool { return s.Start < o.End && o.Start < s.End }

// String renders the span as "[start,end)".
func (s Span) String() string { return fmt.Sprintf("[%d,%d)", s.Start, s.End) }

// Change is a single proposed edit with optional exact location in the
// tracked text state. Loc == nil means the change is unlocated: it is still
// surfaced to callers but cannot be highlighted.
type Change struct {
	ID            string     `json:"id"`
	Type          ChangeType `json:"type"`
	Severity      Severity   `json:"severity"`
	Reason        string     `json:"reason"`
	Before        string     `json:"before"`
	After         string     `json:"after"`
	ContextBefore string     `json:"context_before"`
	ContextAfter  string     `json:"context_after"`
	Loc           *Span      `json:"loc,omitempty"`
}

// Located reports whether the change carries a span.
func (c Change) Located() bool { return c.Loc != nil }

// Clone returns a deep copy of c. The span pointer is never shared.
func (c Change) Clone() Change {
	if c.Loc != nil {
		loc := *c.Loc
		c.Loc = &loc
	}
	return c
}

// CloneChanges deep-copies a slice of changes.
func CloneChanges(cs []Change) []Change {
	if cs == nil {
		return nil
	}
	out := make([]Change, len(cs))
	for i, c := range cs {
		out[i] = c.Clone()
	}
	return out
}

// Result is the output of one full pipeline run.
type Result struct {
	RevisedText string   `json:"revised_text"`
	Changes     []Change `json:"changes"`
}

// MarshalJSON renders a nil change list as an empty array so consumers never
// have to special-case null.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	if r.Changes == nil {
		r.Changes = []Change{}
	}
	return json.Marshal(alias(r))
}
