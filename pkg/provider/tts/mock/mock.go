// Package mock provides a test double for [tts.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// SynthesizeCall records one SynthesizeStream invocation together with the
// text fragments received on its input channel.
type SynthesizeCall struct {
	Voice tts.Voice
	Text  []string
}

// Provider is a mock implementation of [tts.Provider].
type Provider struct {
	mu sync.Mutex

	// Chunks are emitted once the input text channel is drained.
	Chunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	Voices    []tts.Voice
	VoicesErr error

	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.calls = append(p.calls, SynthesizeCall{Voice: voice})
		p.mu.Unlock()
		return nil, err
	}
	idx := len(p.calls)
	p.calls = append(p.calls, SynthesizeCall{Voice: voice})
	chunks := append([][]byte(nil), p.Chunks...)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for s := range text {
			p.mu.Lock()
			p.calls[idx].Text = append(p.calls[idx].Text, s)
			p.mu.Unlock()
		}
		for _, audio := range chunks {
			select {
			case ch <- audio:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.VoicesErr
}

// Calls returns a copy of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	for i, c := range p.calls {
		out[i] = SynthesizeCall{Voice: c.Voice, Text: append([]string(nil), c.Text...)}
	}
	return out
}
