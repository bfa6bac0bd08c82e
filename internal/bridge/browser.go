package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/jarvis/internal/speech"
)

var errQueueFull = errors.New("bridge: send queue full")

// browserStream is a [speech.Stream] whose recogniser runs in the browser.
// Start and Stop become recognition.start and recognition.stop messages;
// the browser answers with recognition events that echo the generation of
// the start they belong to. Events for any other generation are dropped, as
// are events after the stream has reported its end.
type browserStream struct {
	lang string
	send func(v any) bool

	mu   sync.Mutex
	gen  uint64
	sink speech.Sink
}

var _ speech.Stream = (*browserStream)(nil)

func newBrowserStream(lang string, send func(v any) bool) *browserStream {
	return &browserStream{lang: lang, send: send}
}

func (b *browserStream) Start(_ context.Context, sink speech.Sink) error {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.sink = sink
	b.mu.Unlock()

	if !b.send(RecognitionStart{Type: TypeRecognitionStart, Gen: gen, Lang: b.lang}) {
		b.take(gen)
		return errQueueFull
	}
	return nil
}

func (b *browserStream) Stop() error {
	b.mu.Lock()
	gen, running := b.gen, b.sink != nil
	b.mu.Unlock()
	if running {
		b.send(RecognitionStop{Type: TypeRecognitionStop, Gen: gen})
	}
	return nil
}

func (b *browserStream) result(gen uint64, res speech.Result) {
	b.mu.Lock()
	var sink speech.Sink
	if b.matches(gen) {
		sink = b.sink
	}
	b.mu.Unlock()
	if sink != nil {
		sink.Result(res)
	}
}

func (b *browserStream) end(gen uint64) {
	if sink := b.take(gen); sink != nil {
		sink.End()
	}
}

func (b *browserStream) fail(gen uint64, err error) {
	if sink := b.take(gen); sink != nil {
		sink.Error(err)
	}
}

// take detaches the sink of generation gen. Zero selects the current
// generation.
func (b *browserStream) take(gen uint64) speech.Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.matches(gen) {
		return nil
	}
	sink := b.sink
	b.sink = nil
	return sink
}

func (b *browserStream) matches(gen uint64) bool {
	return gen == 0 || gen == b.gen
}
