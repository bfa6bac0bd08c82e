// Package mock provides test doubles for [stt.Provider] and
// [stt.SessionHandle].
//
// Tests drive a [Session] with Emit and End:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []*mock.Session{sess}}
//	...
//	sess.Emit(stt.Transcript{Text: "jarvis", IsFinal: true})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// StartStreamCall records a single StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of [stt.Provider]. Each StartStream call
// returns the next entry of Sessions, or a fresh [Session] once they are used
// up.
type Provider struct {
	mu sync.Mutex

	Sessions       []*Session
	StartStreamErr error

	// Gate, when non-nil, makes StartStream block until it is closed or the
	// context is done. The call is recorded before blocking.
	Gate chan struct{}

	calls   []StartStreamCall
	started []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements [stt.Provider].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	var s *Session
	if len(p.Sessions) > 0 {
		s, p.Sessions = p.Sessions[0], p.Sessions[1:]
	} else {
		s = NewSession()
	}
	p.started = append(p.started, s)
	return s, nil
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.calls...)
}

// Started returns the sessions handed out so far.
func (p *Provider) Started() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.started...)
}

// Session is a mock implementation of [stt.SessionHandle].
type Session struct {
	mu sync.Mutex

	partials chan stt.Transcript
	finals   chan stt.Transcript
	ended    bool
	err      error

	audio  [][]byte
	closes int
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns an open session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
	}
}

// Emit delivers t on the partials or finals channel depending on IsFinal. It
// is a no-op after End.
func (s *Session) Emit(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if t.IsFinal {
		s.finals <- t
	} else {
		s.partials <- t
	}
}

// End closes both transcript channels and records err as the session error.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

// SendAudio implements [stt.SessionHandle].
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return stt.ErrSessionClosed
	}
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }
func (s *Session) Finals() <-chan stt.Transcript   { return s.finals }

// Err implements [stt.SessionHandle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [stt.SessionHandle]. It ends the session without error.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Audio returns the chunks received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
