// Package llm defines the Provider interface for large language model
// backends used by the assistant to answer chat commands.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role    string
	Content string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	Messages []Message

	// SystemPrompt is injected before Messages. Providers without a dedicated
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature in [0, 2]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// Chunk is a fragment of a streaming completion.
type Chunk struct {
	Text string

	// FinishReason is set on the final chunk ("stop", "length", ...).
	FinishReason string

	// Err is set on the last chunk of a stream that failed after it started.
	// Chunks carrying Err have no Text.
	Err error
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of chunks. The initial
	// error is non-nil only when the stream could not be started; later
	// failures arrive as a final [Chunk] with Err set. The returned channel is
	// never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Collect drains ch and returns the concatenated text. It returns the first
// stream error encountered.
func Collect(ch <-chan Chunk) (string, error) {
	var text []byte
	var err error
	for c := range ch {
		if c.Err != nil && err == nil {
			err = c.Err
			continue
		}
		text = append(text, c.Text...)
	}
	return string(text), err
}
