// Package mock provides a test double for [llm.Provider].
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// Call records a single invocation of StreamCompletion or Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of [llm.Provider]. Zero values cause
// methods to return empty results and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are emitted in order by StreamCompletion before the channel
	// is closed.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned from StreamCompletion.
	StreamErr error

	// Block, if non-nil, is waited on before each chunk is sent. Tests close
	// it or send on it to pace the stream.
	Block chan struct{}

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	StreamCalls   []Call
	CompleteCalls []Call
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	err := p.StreamErr
	block := p.Block
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if block != nil {
				select {
				case <-block:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse == nil {
		return &llm.CompletionResponse{}, nil
	}
	r := *p.CompleteResponse
	return &r, nil
}

// Streams returns the number of StreamCompletion calls so far.
func (p *Provider) Streams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStream returns the most recent StreamCompletion call.
func (p *Provider) LastStream() (Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return Call{}, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1], true
}
