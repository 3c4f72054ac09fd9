package rewrite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/copyedit/pkg/types"
)

// llmResponse is the expected JSON structure returned by the LLM. Pointers
// and raw messages let parseResponse tell missing fields from empty ones.
type llmResponse struct {
	RevisedText *string         `json:"revised_text"`
	Changes     json.RawMessage `json:"changes"`
}

type llmChange struct {
	Type          string `json:"type"`
	Severity      string `json:"severity"`
	Reason        string `json:"reason"`
	Before        string `json:"before"`
	After         string `json:"after"`
	ContextBefore string `json:"context_before"`
	ContextAfter  string `json:"context_after"`
}

// parseResponse decodes the model output. Unknown types and severities are
// coerced rather than rejected; no-op entries are dropped.
func parseResponse(content string) (string, []types.Change, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		// Some models wrap the object in a sentence; retry on the outermost
		// braces before giving up.
		obj, ok := outermostObject(cleaned)
		if !ok {
			return "", nil, fmt.Errorf("rewrite: parse response: %w: %w", types.ErrParse, err)
		}
		r = llmResponse{}
		if err := json.Unmarshal([]byte(obj), &r); err != nil {
			return "", nil, fmt.Errorf("rewrite: parse response: %w: %w", types.ErrParse, err)
		}
	}

	if r.RevisedText == nil {
		return "", nil, fmt.Errorf("rewrite: parse response: %w: missing revised_text", types.ErrParse)
	}

	var raw []llmChange
	if len(r.Changes) > 0 && string(r.Changes) != "null" {
		if err := json.Unmarshal(r.Changes, &raw); err != nil {
			return "", nil, fmt.Errorf("rewrite: parse response: %w: changes: %w", types.ErrParse, err)
		}
	}

	changes := make([]types.Change, 0, len(raw))
	for _, c := range raw {
		if c.Before == c.After {
			continue
		}
		changes = append(changes, types.Change{
			Type:          types.ParseChangeType(c.Type),
			Severity:      types.ParseSeverity(c.Severity),
			Reason:        c.Reason,
			Before:        c.Before,
			After:         c.After,
			ContextBefore: c.ContextBefore,
			ContextAfter:  c.ContextAfter,
		})
	}

	return *r.RevisedText, changes, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func outermostObject(s string) (string, bool) {
	i := strings.IndexByte(s, '{')
	j := strings.LastIndexByte(s, '}')
	if i < 0 || j <= i {
		return "", false
	}
	return s[i : j+1], true
}
