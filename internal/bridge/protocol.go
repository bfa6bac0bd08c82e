package bridge

import (
	"github.com/MrWong99/jarvis/internal/action"
	"github.com/MrWong99/jarvis/internal/speech"
	"github.com/MrWong99/jarvis/internal/voicecmd"
)

// Inbound message types.
const (
	TypeHello             = "hello"
	TypeWakeStart         = "voice.wake.start"
	TypeWakeStop          = "voice.wake.stop"
	TypeListenStart       = "voice.listen.start"
	TypeListenStop        = "voice.listen.stop"
	TypeRecognitionResult = "recognition.result"
	TypeRecognitionEnd    = "recognition.end"
	TypeRecognitionError  = "recognition.error"
	TypeChat              = "chat"
)

// Outbound message types.
const (
	TypeVoiceState       = "voice.state"
	TypeVoiceCommand     = "voice.command"
	TypeRecognitionStart = "recognition.start"
	TypeRecognitionStop  = "recognition.stop"
	TypeActions          = "actions"
	TypeAssistantReply   = "assistant.reply"
	TypeError            = "error"
)

// Inbound is a message received from the browser. Only the fields relevant
// to Type are set.
type Inbound struct {
	Type string `json:"type"`

	// SpeechSupported is sent with hello and tells whether the browser has a
	// speech recognition engine.
	SpeechSupported bool `json:"speech_supported,omitempty"`

	// SampleRate and Channels describe the PCM the browser sends in binary
	// frames when recognition runs on the server. Zero means 16 kHz mono.
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`

	// Gen echoes the generation of the recognition.start that opened the
	// stream a recognition event belongs to.
	Gen      uint64           `json:"gen,omitempty"`
	Segments []speech.Segment `json:"segments,omitempty"`
	Error    string           `json:"error,omitempty"`

	Text string `json:"text,omitempty"`
}

// VoiceState carries the recognition session state.
type VoiceState struct {
	Type  string          `json:"type"`
	State speech.Snapshot `json:"state"`
}

// VoiceCommand announces a recognised command and its routing decision.
type VoiceCommand struct {
	Type   string               `json:"type"`
	Text   string               `json:"text"`
	Source speech.CommandSource `json:"source"`
	Intent voicecmd.Kind        `json:"intent"`
	Panel  voicecmd.Panel       `json:"panel,omitempty"`
}

// RecognitionStart asks the browser to start its recognition engine.
type RecognitionStart struct {
	Type string `json:"type"`
	Gen  uint64 `json:"gen"`
	Lang string `json:"lang"`
}

// RecognitionStop asks the browser to stop the recognition engine started
// with Gen.
type RecognitionStop struct {
	Type string `json:"type"`
	Gen  uint64 `json:"gen"`
}

// Actions is the tracker snapshot pushed after every change.
type Actions struct {
	Type      string          `json:"type"`
	Actions   []action.Action `json:"actions"`
	Current   *action.Action  `json:"current,omitempty"`
	Executing bool            `json:"executing"`
	Stopped   bool            `json:"stopped"`
}

// AssistantReply carries an assistant answer. When HasAudio is set the next
// binary frame holds the spoken reply.
type AssistantReply struct {
	Type     string `json:"type"`
	ActionID string `json:"action_id"`
	Text     string `json:"text"`
	Provider string `json:"provider"`
	HasAudio bool   `json:"has_audio"`
}

// Error reports a failure to the browser.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func actionsMessage(t *action.Tracker) Actions {
	s := t.Snapshot()
	return Actions{
		Type:      TypeActions,
		Actions:   s.Actions,
		Current:   s.Current,
		Executing: s.Executing,
		Stopped:   s.Stopped,
	}
}
