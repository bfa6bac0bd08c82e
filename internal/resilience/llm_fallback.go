package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over between backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns an LLMFallback with primary as its first backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backend names in registration order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Breaker returns the circuit breaker of the named backend, or nil.
func (f *LLMFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := ExecuteWithResult(f.group, "", func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}

// StreamCompletion implements [llm.Provider] using registration order.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch, _, err := f.StreamFrom(ctx, "", req)
	return ch, err
}

// StreamFrom streams a completion starting with the backend named prefer and
// returns the name of the backend that answered. A backend counts as failed
// when it cannot start the stream or its first chunk carries an error; once
// a chunk has been forwarded, later errors reach the caller unchanged.
func (f *LLMFallback) StreamFrom(ctx context.Context, prefer string, req llm.CompletionRequest) (<-chan llm.Chunk, string, error) {
	return ExecuteWithResult(f.group, prefer, func(p llm.Provider) (<-chan llm.Chunk, error) {
		ch, err := p.StreamCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		first, ok := <-ch
		if ok && first.Err != nil {
			go drain(ch)
			return nil, fmt.Errorf("resilience: stream failed before first chunk: %w", first.Err)
		}
		out := make(chan llm.Chunk, 1)
		go func() {
			defer close(out)
			if !ok {
				return
			}
			out <- first
			for c := range ch {
				select {
				case out <- c:
				case <-ctx.Done():
					drain(ch)
					return
				}
			}
		}()
		return out, nil
	})
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
