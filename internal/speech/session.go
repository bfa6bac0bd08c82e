package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/wakeword"
)

const (
	defaultInboxSize   = 64
	defaultCommandSize = 16
)

// Option configures a [Session].
type Option func(*Session)

// WithConfig sets the session timings. Zero durations fall back to
// [DefaultConfig].
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithMatcher sets the wake phrase matcher. Defaults to [wakeword.New].
func WithMatcher(m *wakeword.Matcher) Option {
	return func(s *Session) { s.wake = m }
}

// WithClock replaces the timer source.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithMetrics records session metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithStateListener registers fn to be called with the new snapshot after
// every state change. fn runs on the session loop and must not block or call
// back into the session.
func WithStateListener(fn func(Snapshot)) Option {
	return func(s *Session) { s.listeners = append(s.listeners, fn) }
}

// WithCommandBuffer sets the capacity of the [Session.Commands] channel.
func WithCommandBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.cmdSize = n
		}
	}
}

// Session is one recognition session bound to a [Stream]. Create it with
// [New], start its loop with [Session.Run], and drive it through the
// Start/Stop operations. A nil stream yields an unsupported session.
type Session struct {
	cfg       Config
	wake      *wakeword.Matcher
	clock     Clock
	metrics   *observe.Metrics
	log       *slog.Logger
	listeners []func(Snapshot)
	cmdSize   int

	stream   Stream
	m        *machine
	inbox    chan request
	commands chan Command
	timers   [numSlots]Timer
	done     chan struct{}
	runOnce  sync.Once

	// Loop-owned.
	runCtx         context.Context
	streamStarted  time.Time
	awaitingResult bool

	mu   sync.RWMutex
	snap Snapshot
}

type request struct {
	ev   any
	done chan struct{}
}

// New creates a session for stream.
func New(stream Stream, opts ...Option) *Session {
	s := &Session{
		cfg:     DefaultConfig(),
		clock:   realClock{},
		log:     slog.Default(),
		cmdSize: defaultCommandSize,
		stream:  stream,
		inbox:   make(chan request, defaultInboxSize),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.wake == nil {
		s.wake = wakeword.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.commands = make(chan Command, s.cmdSize)
	s.m = newMachine(s.cfg, s.wake, stream != nil)
	s.snap = s.m.snapshot()
	return s
}

// Supported reports whether the session has a recognition stream.
func (s *Session) Supported() bool { return s.stream != nil }

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Commands returns the channel on which emitted commands are delivered. It is
// closed when [Session.Run] returns. Commands are dropped with a warning when
// the channel is full.
func (s *Session) Commands() <-chan Command { return s.commands }

// StartWakeWordDetection arms wake-word listening and starts the stream. It
// is a no-op when already armed. Like every start and stop operation it
// returns [ErrUnsupported] when the session has no stream.
func (s *Session) StartWakeWordDetection(ctx context.Context) error {
	return s.do(ctx, opStartWake{})
}

// StopWakeWordDetection disarms the session, cancels pending timers and
// stops the stream. It is safe to call when not armed.
func (s *Session) StopWakeWordDetection(ctx context.Context) error {
	return s.do(ctx, opStopWake{})
}

// StartListening begins a one-shot command capture without the wake phrase.
// It only has an effect from idle.
func (s *Session) StartListening(ctx context.Context) error {
	return s.do(ctx, opStartListening{})
}

// StopListening ends a one-shot capture. It only has an effect in command
// mode while wake-word detection is not armed.
func (s *Session) StopListening(ctx context.Context) error {
	return s.do(ctx, opStopListening{})
}

// TakeCommand returns the last emitted command and clears it, so each
// command is consumed at most once.
func (s *Session) TakeCommand(ctx context.Context) (string, error) {
	var out string
	if err := s.do(ctx, opTakeCommand{out: &out}); err != nil {
		return "", err
	}
	return out, nil
}

// Run processes events until ctx is cancelled. On return the stream is
// stopped, timers are cancelled and the commands channel is closed. Run may
// only be called once.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return nil
	}

	s.runCtx = ctx
	s.metrics.ActiveVoiceSessions.Add(ctx, 1)
	defer s.metrics.ActiveVoiceSessions.Add(context.WithoutCancel(ctx), -1)
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.inbox:
			s.process(req.ev)
			if req.done != nil {
				close(req.done)
			}
		}
	}
}

// do sends ev to the loop and waits until it has been applied.
func (s *Session) do(ctx context.Context, ev any) error {
	switch ev.(type) {
	case opStartWake, opStopWake, opStartListening, opStopListening:
		if s.stream == nil {
			s.log.Debug("speech: ignoring operation on unsupported session")
			return ErrUnsupported
		}
	}
	req := request{ev: ev, done: make(chan struct{})}
	select {
	case s.inbox <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers an asynchronous event without waiting for it.
func (s *Session) post(ev any) {
	select {
	case s.inbox <- request{ev: ev}:
	case <-s.done:
	}
}

func (s *Session) process(ev any) {
	if r, ok := ev.(streamResult); ok && s.awaitingResult && r.gen == s.m.streamGen {
		if _, final := r.res.split(); final != "" {
			s.awaitingResult = false
			s.metrics.STTDuration.Record(s.runCtx, s.clock.Now().Sub(s.streamStarted).Seconds())
		}
	}

	effs := s.m.step(ev)
	for i := 0; i < len(effs); i++ {
		if more := s.apply(effs[i]); len(more) > 0 {
			effs = append(effs, more...)
		}
	}

	snap := s.m.snapshot()
	s.mu.Lock()
	changed := snap != s.snap
	s.snap = snap
	s.mu.Unlock()
	if changed {
		for _, fn := range s.listeners {
			fn(snap)
		}
	}
}

// apply executes one effect. A failed stream start is fed back into the
// machine as a stream error; the resulting effects are returned.
func (s *Session) apply(e effect) []effect {
	ctx := s.runCtx
	switch e.kind {
	case effStartStream:
		s.streamStarted = s.clock.Now()
		s.awaitingResult = true
		if err := s.stream.Start(ctx, &sink{s: s, gen: e.gen}); err != nil {
			s.log.Warn("speech: failed to start stream", "err", err)
			return append([]effect(nil), s.m.step(streamError{gen: e.gen, err: err})...)
		}
		s.log.Debug("speech: stream started", "gen", e.gen)

	case effStopStream:
		s.awaitingResult = false
		if err := s.stream.Stop(); err != nil {
			s.log.Warn("speech: failed to stop stream", "err", err)
		}

	case effSchedule:
		if t := s.timers[e.slot]; t != nil {
			t.Stop()
		}
		slot, gen := e.slot, e.gen
		s.timers[e.slot] = s.clock.AfterFunc(e.delay, func() {
			s.post(timerFired{slot: slot, gen: gen})
		})

	case effCancel:
		if t := s.timers[e.slot]; t != nil {
			t.Stop()
			s.timers[e.slot] = nil
		}

	case effEmit:
		cmd := Command{Text: e.text, Source: e.source, At: s.clock.Now()}
		s.metrics.VoiceCommands.Add(ctx, 1, metric.WithAttributes(observe.Attr("source", string(e.source))))
		s.log.Info("speech: command received", "text", e.text, "source", e.source)
		select {
		case s.commands <- cmd:
		default:
			s.log.Warn("speech: command channel full, dropping command", "text", e.text)
		}

	case effModeChange:
		s.metrics.RecordModeTransition(ctx, string(e.from), string(e.to))
		s.log.Debug("speech: mode changed", "from", e.from, "to", e.to)

	case effCaptureTimeout:
		s.metrics.CaptureTimeouts.Add(ctx, 1)
		s.log.Debug("speech: capture window expired")

	case effRestart:
		s.metrics.RecordStreamRestart(ctx, e.reason)
		s.log.Debug("speech: stream restart scheduled", "reason", e.reason, "delay", e.delay)

	case effDisarmed:
		s.log.Warn("speech: too many consecutive stream errors, disarming",
			"errors", s.cfg.MaxConsecutiveErrors, "err", e.err)
	}
	return nil
}

func (s *Session) shutdown() {
	close(s.done)
	for i, t := range s.timers {
		if t != nil {
			t.Stop()
			s.timers[i] = nil
		}
	}
	if s.m.streamActive {
		if err := s.stream.Stop(); err != nil {
			s.log.Warn("speech: failed to stop stream on shutdown", "err", err)
		}
	}
	close(s.commands)
}

// sink binds stream callbacks to the stream generation that produced them,
// so events from a replaced stream are ignored.
type sink struct {
	s   *Session
	gen uint64
}

func (k *sink) Result(r Result) { k.s.post(streamResult{gen: k.gen, res: r}) }
func (k *sink) End()            { k.s.post(streamEnd{gen: k.gen}) }
func (k *sink) Error(err error) { k.s.post(streamError{gen: k.gen, err: err}) }
