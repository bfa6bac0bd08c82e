// Package speech turns a continuous stream of recognition results into
// discrete voice commands gated behind a wake phrase.
//
// A [Session] owns one recognition [Stream] and runs a three-mode state
// machine: idle, wake_word (listening for the wake phrase) and command
// (capturing the utterance that follows it). Streams end on their own after
// silence or errors; while wake-word detection is armed the session restarts
// them transparently.
//
// All transitions happen on a single event loop started by [Session.Run].
// Operations, stream callbacks and timer firings are messages to that loop,
// so the transition logic in machine.go never needs locking.
package speech

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnsupported is returned by the start and stop operations of a session
// built without a recognition stream. The operation is logged and the session
// stays idle.
var ErrUnsupported = errors.New("speech: recognition not supported")

// ErrClosed is returned by operations on a session whose loop has exited.
var ErrClosed = errors.New("speech: session closed")

// Mode is the listening mode of a session.
type Mode string

const (
	// ModeIdle means no recognition is wanted.
	ModeIdle Mode = "idle"

	// ModeWakeWord means the session listens for the wake phrase.
	ModeWakeWord Mode = "wake_word"

	// ModeCommand means the session captures a command.
	ModeCommand Mode = "command"
)

// Segment is one recognised piece of speech.
type Segment struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// Result is one batch of segments delivered by a stream.
type Result struct {
	Segments []Segment `json:"segments"`
}

// split concatenates interim and final segment texts separately.
func (r Result) split() (interim, final string) {
	var ib, fb strings.Builder
	for _, s := range r.Segments {
		if s.IsFinal {
			fb.WriteString(s.Text)
		} else {
			ib.WriteString(s.Text)
		}
	}
	return strings.TrimSpace(ib.String()), strings.TrimSpace(fb.String())
}

// Sink receives stream events. Implementations are safe for concurrent use.
type Sink interface {
	Result(Result)
	End()
	Error(error)
}

// Stream is a continuous speech recogniser. Start begins delivering events
// to sink until the stream ends by itself or Stop is called; in both cases
// the stream reports End (or Error) exactly once. A stream may be started
// again after it has ended. Start and Stop must not wait for sink calls to
// return.
type Stream interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
}

// CommandSource tells how a command was captured.
type CommandSource string

const (
	// SourceWakeWord marks a command spoken in the same utterance as the
	// wake phrase.
	SourceWakeWord CommandSource = "wake_word"

	// SourceCapture marks a command finalised during a capture window.
	SourceCapture CommandSource = "capture"
)

// Command is a finalised voice command.
type Command struct {
	Text   string        `json:"text"`
	Source CommandSource `json:"source"`
	At     time.Time     `json:"at"`
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Mode       Mode   `json:"mode"`
	Transcript string `json:"transcript"`
	Command    string `json:"command"`
	Armed      bool   `json:"armed"`
	Listening  bool   `json:"listening"`
	Supported  bool   `json:"supported"`
	LastError  string `json:"last_error,omitempty"`
}

// Config holds the session timings.
type Config struct {
	// CaptureTimeout bounds the command capture window.
	CaptureTimeout time.Duration

	// CommandGrace is the delay between emitting a command and returning to
	// wake-word listening.
	CommandGrace time.Duration

	// RestartDelay is the wait before restarting a stream that ended while
	// armed.
	RestartDelay time.Duration

	// ErrorRestartDelay is the wait before restarting after a stream error.
	ErrorRestartDelay time.Duration

	// MaxConsecutiveErrors disarms the session once this many stream errors
	// occur without a result in between. Zero disables the cap.
	MaxConsecutiveErrors int
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		CaptureTimeout:       10 * time.Second,
		CommandGrace:         500 * time.Millisecond,
		RestartDelay:         100 * time.Millisecond,
		ErrorRestartDelay:    time.Second,
		MaxConsecutiveErrors: 10,
	}
}

// withDefaults fills zero durations from [DefaultConfig].
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = d.CaptureTimeout
	}
	if c.CommandGrace <= 0 {
		c.CommandGrace = d.CommandGrace
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.ErrorRestartDelay <= 0 {
		c.ErrorRestartDelay = d.ErrorRestartDelay
	}
	if c.MaxConsecutiveErrors < 0 {
		c.MaxConsecutiveErrors = 0
	}
	return c
}

// Clock schedules timers. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending [Clock.AfterFunc] call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
