// Package tts defines the Provider interface for text-to-speech backends.
//
// SynthesizeStream accepts a channel of text fragments and returns a channel of
// encoded audio as it becomes available, so LLM output can be spoken while it
// is still being generated.
package tts

import "context"

// Voice selects and tunes the synthesised voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	Name     string
	Provider string

	// Stability and SimilarityBoost are in [0, 1]. Zero values select the
	// provider defaults.
	Stability       float64
	SimilarityBoost float64

	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// SynthesizeStream consumes text until the channel is closed and returns
	// a channel of audio chunks in the provider's output format. The audio
	// channel is closed when synthesis completes or ctx is cancelled; callers
	// must drain it.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// Synthesize is a convenience wrapper that speaks a complete text and returns
// the concatenated audio.
func Synthesize(ctx context.Context, p Provider, text string, voice Voice) ([]byte, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	out, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return nil, err
	}
	var audio []byte
	for chunk := range out {
		audio = append(audio, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return audio, nil
}
