// Package mock provides a test double for the llm.Provider interface.
//
// A Provider answers from one of three sources, checked in order: a
// CompleteFunc computed per request, a Replies script consumed one entry per
// call, or the fixed CompleteResponse/CompleteErr pair. Every call is
// recorded so tests can inspect the paragraph each pass sent.
//
//	p := mock.Script(
//	    `{"corrected_text":"Hi there.","changes":[...]}`,
//	    `{"corrected_text":"Hi there.","changes":[]}`,
//	)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/copyedit/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. The zero value answers
// every call with (nil, nil).
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, if set, computes the response for every call and takes
	// precedence over everything else.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Replies is consumed one entry per call. Once exhausted the last entry
	// keeps being returned, which models a model that has settled.
	Replies []string

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Script returns a Provider that replies with contents in order.
func Script(contents ...string) *Provider {
	return &Provider{Replies: contents}
}

// Complete records the call and returns the scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	n := len(p.CompleteCalls)
	fn := p.CompleteFunc
	var scripted *llm.CompletionResponse
	if len(p.Replies) > 0 {
		scripted = &llm.CompletionResponse{Content: p.Replies[min(n, len(p.Replies))-1]}
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case scripted != nil:
		return scripted, nil
	default:
		return resp, err
	}
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns the number of Complete invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Inputs returns the content of the last message of every call, which is the
// paragraph as the model saw it on each pass.
func (p *Provider) Inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.CompleteCalls))
	for _, c := range p.CompleteCalls {
		var text string
		if msgs := c.Req.Messages; len(msgs) > 0 {
			text = msgs[len(msgs)-1].Content
		}
		out = append(out, text)
	}
	return out
}

var _ llm.Provider = (*Provider)(nil)
