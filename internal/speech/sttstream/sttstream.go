// Package sttstream adapts a streaming [stt.Provider] to [speech.Stream], so
// recognition can run on the server from raw PCM audio instead of in the
// browser.
//
// Audio reaches the active recognition session through [Stream.Write];
// frames written while no session is running are dropped.
package sttstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/speech"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

const defaultKeywordBoost = 2.0

// Option configures a [Stream].
type Option func(*Stream)

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(s *Stream) { s.name = name }
}

// WithMetrics records provider metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

// Stream is a [speech.Stream] backed by an STT provider. Each Start opens a
// new provider session.
type Stream struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	name     string
	metrics  *observe.Metrics

	mu     sync.Mutex
	handle stt.SessionHandle
	// seq advances on every Start and Stop so that a dial finishing after
	// either of them knows it is stale.
	seq uint64
}

var _ speech.Stream = (*Stream)(nil)

// New returns a Stream that opens sessions on p with cfg.
func New(p stt.Provider, cfg stt.StreamConfig, opts ...Option) *Stream {
	s := &Stream{provider: p, cfg: cfg, name: "stt"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Start implements [speech.Stream]. The provider session is opened in the
// background; a failure to open it is reported through sink.Error, and a
// Stop issued while it is opening ends the stream through sink.End.
func (s *Stream) Start(ctx context.Context, sink speech.Sink) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	old := s.handle
	s.handle = nil
	s.mu.Unlock()
	if old != nil {
		go old.Close()
	}

	go s.open(ctx, seq, sink)
	return nil
}

func (s *Stream) open(ctx context.Context, seq uint64, sink speech.Sink) {
	start := time.Now()
	h, err := s.provider.StartStream(ctx, s.cfg)
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.name, "stt", "error")
		s.metrics.RecordProviderError(ctx, s.name, "stt")
		sink.Error(fmt.Errorf("sttstream: start %s session: %w", s.name, err))
		return
	}
	s.metrics.RecordProviderRequest(ctx, s.name, "stt", "ok")
	slog.Debug("sttstream: session started", "provider", s.name, "elapsed", time.Since(start))

	s.mu.Lock()
	stale := s.seq != seq
	if !stale {
		s.handle = h
	}
	s.mu.Unlock()
	if stale {
		if err := h.Close(); err != nil {
			slog.Warn("sttstream: failed to close session", "provider", s.name, "err", err)
		}
		sink.End()
		return
	}

	s.pump(ctx, h, sink)
}

// Stop implements [speech.Stream]. The session is closed in the background;
// its end is reported to the sink once the provider has shut down.
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.seq++
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h != nil {
		go func() {
			if err := h.Close(); err != nil {
				slog.Warn("sttstream: failed to close session", "provider", s.name, "err", err)
			}
		}()
	}
	return nil
}

// Write forwards a PCM frame to the running session. Frames are dropped
// while no session runs. It implements [io.Writer].
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return len(p), nil
	}
	if err := h.SendAudio(p); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
		return 0, fmt.Errorf("sttstream: send audio: %w", err)
	}
	return len(p), nil
}

// Active reports whether a provider session is running.
func (s *Stream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

func (s *Stream) pump(ctx context.Context, h stt.SessionHandle, sink speech.Sink) {
	partials, finals := h.Partials(), h.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			sink.Result(toResult(t))
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			sink.Result(toResult(t))
		}
	}

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()

	if err := h.Err(); err != nil {
		s.metrics.RecordProviderError(ctx, s.name, "stt")
		slog.Warn("sttstream: session failed", "provider", s.name, "err", err)
		sink.Error(err)
		return
	}
	sink.End()
}

func toResult(t stt.Transcript) speech.Result {
	return speech.Result{Segments: []speech.Segment{{Text: t.Text, IsFinal: t.IsFinal}}}
}

// Keywords turns wake phrases into provider keyword boosts, one per distinct
// word of three or more letters.
func Keywords(phrases []string) []stt.KeywordBoost {
	seen := make(map[string]bool)
	var out []stt.KeywordBoost
	for _, p := range phrases {
		for _, w := range strings.Fields(strings.ToLower(p)) {
			if len([]rune(w)) < 3 || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, stt.KeywordBoost{Keyword: w, Boost: defaultKeywordBoost})
		}
	}
	return out
}
