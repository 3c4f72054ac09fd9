package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/copyedit/pkg/provider/llm"
	llmmock "github.com/MrWong99/copyedit/pkg/provider/llm/mock"
)

func newLLMFallback(primary, secondary *llmmock.Provider) *LLMFallback {
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	if secondary != nil {
		fb.AddFallback("secondary", secondary)
	}
	return fb
}

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from primary"}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}
	fb := newLLMFallback(primary, secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "edit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Fatalf("content = %q, want 'from primary'", resp.Content)
	}
	if primary.Calls() != 1 || secondary.Calls() != 0 {
		t.Fatalf("calls: primary=%d secondary=%d, want 1 and 0", primary.Calls(), secondary.Calls())
	}
	if primary.CompleteCalls[0].Req.SystemPrompt != "edit" {
		t.Error("request was not forwarded unchanged")
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}
	fb := newLLMFallback(primary, secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("content = %q, want 'from secondary'", resp.Content)
	}

	// The primary's breaker is open now, so it is not called again.
	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if primary.Calls() != 1 || secondary.Calls() != 2 {
		t.Fatalf("calls: primary=%d secondary=%d, want 1 and 2", primary.Calls(), secondary.Calls())
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}
	fb := newLLMFallback(primary, secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !strings.Contains(err.Error(), "secondary down") {
		t.Errorf("err = %v, want last failure in message", err)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000, SupportsJSONMode: true}}
	fb := newLLMFallback(primary, &llmmock.Provider{})

	caps := fb.Capabilities()
	if caps.ContextWindow != 128000 || !caps.SupportsJSONMode {
		t.Fatalf("capabilities = %+v", caps)
	}
}

func TestLLMFallback_Check(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("down")}
	fb := newLLMFallback(primary, secondary)

	if err := fb.Check(context.Background()); err != nil {
		t.Fatalf("fresh fallback should be ready: %v", err)
	}

	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})
	err := fb.Check(context.Background())
	if err == nil {
		t.Fatal("expected error with every circuit open")
	}
	if !strings.Contains(err.Error(), "primary, secondary") {
		t.Errorf("err = %v, want both names", err)
	}
}
