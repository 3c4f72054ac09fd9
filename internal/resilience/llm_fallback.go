package resilience

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/copyedit/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over a [FallbackGroup] of LLM
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete sends req to the first backend that accepts it.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary's capabilities. Fallbacks are expected to
// be comparable models.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

// Status returns the breaker state of every backend.
func (f *LLMFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Check returns an error when no backend would currently accept a call. It
// is suitable as a readiness check.
func (f *LLMFallback) Check(context.Context) error {
	var open []string
	for _, s := range f.group.Status() {
		if s.State != StateOpen {
			return nil
		}
		open = append(open, s.Name)
	}
	return fmt.Errorf("resilience: every llm circuit is open: %s", strings.Join(open, ", "))
}
