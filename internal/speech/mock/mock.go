// Package mock provides test doubles for the speech package: a scripted
// recognition stream and a manually advanced clock.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/speech"
)

var _ speech.Stream = (*Stream)(nil)

// Stream is a scripted [speech.Stream]. Tests push events to the sink of the
// most recent Start with Emit, End and Fail.
type Stream struct {
	mu sync.Mutex

	// StartErrs are returned by successive Start calls; nil entries and
	// calls beyond the slice succeed.
	StartErrs []error

	// EndOnStop makes Stop report End to the current sink, as browser
	// recognisers do.
	EndOnStop bool

	sinks   []speech.Sink
	starts  int
	stops   int
	running bool
}

// Start implements [speech.Stream].
func (s *Stream) Start(_ context.Context, sink speech.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.starts
	s.starts++
	if i < len(s.StartErrs) && s.StartErrs[i] != nil {
		return s.StartErrs[i]
	}
	s.sinks = append(s.sinks, sink)
	s.running = true
	return nil
}

// Stop implements [speech.Stream].
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.stops++
	wasRunning := s.running
	s.running = false
	sink := s.current()
	end := s.EndOnStop
	s.mu.Unlock()

	if end && wasRunning && sink != nil {
		sink.End()
	}
	return nil
}

func (s *Stream) current() speech.Sink {
	if len(s.sinks) == 0 {
		return nil
	}
	return s.sinks[len(s.sinks)-1]
}

// Sink returns the sink passed to the most recent successful Start.
func (s *Stream) Sink() speech.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

// Sinks returns every sink received so far, oldest first.
func (s *Stream) Sinks() []speech.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sinks)
}

// Emit delivers a result with the given segments to the current sink.
func (s *Stream) Emit(segments ...speech.Segment) {
	if sink := s.Sink(); sink != nil {
		sink.Result(speech.Result{Segments: segments})
	}
}

// End reports a natural end of the current stream.
func (s *Stream) End() {
	s.mu.Lock()
	s.running = false
	sink := s.current()
	s.mu.Unlock()
	if sink != nil {
		sink.End()
	}
}

// Fail reports err on the current stream.
func (s *Stream) Fail(err error) {
	if sink := s.Sink(); sink != nil {
		sink.Error(err)
	}
}

// Starts returns the number of Start calls, including failed ones.
func (s *Stream) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Stops returns the number of Stop calls.
func (s *Stream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Running reports whether the stream was started and has not stopped or
// ended since.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interim returns an interim segment.
func Interim(text string) speech.Segment { return speech.Segment{Text: text} }

// Final returns a final segment.
func Final(text string) speech.Segment { return speech.Segment{Text: text, IsFinal: true} }

var _ speech.Clock = (*Clock)(nil)

// Clock is a [speech.Clock] whose time only moves on Advance. Timer
// callbacks run synchronously inside Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

type timer struct {
	c    *Clock
	at   time.Time
	f    func()
	done bool
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

// Now implements [speech.Clock].
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements [speech.Clock].
func (c *Clock) AfterFunc(d time.Duration, f func()) speech.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every timer that falls due,
// in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *timer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.timers = slices.DeleteFunc(c.timers, func(t *timer) bool { return t.done })
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}
