// Package mock holds a recording llm.Provider double.
//
// Tests configure the response fields up front, run the code under test,
// then inspect CompleteCalls to see exactly what the extractor asked for:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "100 Main St, Anytown, ST"},
//	}
//	resp, err := p.Complete(ctx, req)
//
// Response fields must not be mutated while a call is in flight.
package mock

import (
	"context"
	"sync"

	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
)

// CompleteCall captures the arguments of one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a configurable llm.Provider double. With all response
// fields zero, Complete returns nil, nil.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is what Complete hands back. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, when non-nil, is returned by Complete instead.
	CompleteErr error

	// CompleteFn, if non-nil, is invoked instead of returning the static
	// fields above. Useful for per-call responses in table tests.
	CompleteFn func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteCalls accumulates one entry per Complete invocation.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFn
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Reset drops the recorded calls so one mock can serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
