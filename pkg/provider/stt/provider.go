// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// A provider opens a session per recognition stream. Audio is pushed in with
// SendAudio; interim and final transcripts arrive on separate channels. Both
// channels are closed when the session ends, after which Err reports whether
// it ended because of a failure.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session has ended.
var ErrSessionClosed = errors.New("stt: session is closed")

// Transcript is a recognition result.
type Transcript struct {
	Text string

	// IsFinal distinguishes authoritative results from interim hypotheses.
	IsFinal bool

	// Confidence in [0, 1]; zero when the provider does not report it.
	Confidence float64
}

// KeywordBoost biases recognition toward a term, such as the assistant's
// name.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// StreamConfig configures a recognition session.
type StreamConfig struct {
	// SampleRate of the 16-bit little-endian PCM input in Hz.
	SampleRate int
	Channels   int

	// Language is a BCP-47 tag such as "pt-BR". Empty selects the provider
	// default.
	Language string

	Keywords []KeywordBoost
}

// SessionHandle is a live recognition session.
type SessionHandle interface {
	// SendAudio queues a PCM chunk. It returns [ErrSessionClosed] once the
	// session has ended.
	SendAudio(chunk []byte) error

	Partials() <-chan Transcript
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil for a normal end.
	// It is only meaningful after both transcript channels are closed.
	Err() error

	// Close ends the session and releases its resources. It is idempotent.
	Close() error
}

// Provider starts recognition sessions. Implementations must be safe for
// concurrent use.
type Provider interface {
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
