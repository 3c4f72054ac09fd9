package anyllm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/copyedit/pkg/provider/llm"
	"github.com/MrWong99/copyedit/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	got := convertMessage(llm.Message{Role: "user", Content: "Hello!"})
	if got.Role != "user" {
		t.Errorf("expected role user, got %q", got.Role)
	}
	if got.ContentString() != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", got.ContentString())
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "fix the text",
		Messages:     []llm.Message{{Role: "user", Content: "teh cat"}},
		Temperature:  0.1,
		MaxTokens:    256,
	})
	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.1 {
		t.Errorf("temperature not forwarded: %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens not forwarded: %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero temperature and max tokens must stay unset")
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model  string
		window int
		maxOut int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"GPT-4o", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"o1-mini", 128_000, 65_536},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-sonnet-4-5", 200_000, 8_192},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3", 128_000, 4_096},
	}
	for _, tt := range tests {
		caps := modelCapabilities(tt.model)
		if caps.ContextWindow != tt.window || caps.MaxOutputTokens != tt.maxOut {
			t.Errorf("%s: got (%d, %d), want (%d, %d)",
				tt.model, caps.ContextWindow, caps.MaxOutputTokens, tt.window, tt.maxOut)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
	}{
		{"empty backend", "", "gpt-4o"},
		{"unknown backend", "fakecloud", "some-model"},
		{"empty model", "ollama", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.backend, tt.model, anyllmlib.WithAPIKey("dummy"))
			if !errors.Is(err, types.ErrConfiguration) {
				t.Fatalf("error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		backend string
		opts    []anyllmlib.Option
	}{
		{"openai", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p, err := New(tt.backend, "some-model", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.name != strings.ToLower(tt.backend) {
				t.Errorf("name = %q", p.name)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if len(got) != 9 {
		t.Fatalf("Backends() = %v, want 9 names", got)
	}
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
}

func TestComplete_UnreachableBackendIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New("llamacpp", "some-model", anyllmlib.WithBaseURL(url+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = p.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, types.ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
}
