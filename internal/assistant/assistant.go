// Package assistant answers chat commands with an LLM and, optionally, speaks
// the answer through a TTS provider.
//
// Every reply is registered with the action tracker as an api_call action, so
// the user can follow its progress and cancel it while the completion is still
// streaming. Cancellation is cooperative: the responder checks the action's
// status after each chunk and abandons the stream once it is no longer
// running.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/jarvis/internal/action"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// DefaultHistoryMessages is the number of messages a [Conversation] keeps.
const DefaultHistoryMessages = 20

// DefaultSystemPrompt is the persona used when no prompt is configured.
const DefaultSystemPrompt = `You are JARVIS (Just A Rather Very Intelligent System), an advanced and impartial AI assistant.
Your personality follows the JARVIS of Iron Man: polite, sophisticated, efficient, with a touch of British humour when appropriate.

You are a general assistant and can help with any subject: programming, research, data analysis, productivity, automation, scheduling, marketing and anything else the user needs.

Guidelines:
- Always answer in Brazilian Portuguese.
- Be objective, practical and impartial.
- Occasionally address the user as "senhor" or "senhora".
- Be concise but complete, and suggest improvements when useful.

Special commands:
- When the user mentions "Gemini" the request is answered by the Gemini model.
- Commands such as "PARA" or "STOP" interrupt running actions.`

// DefaultSecondaryTriggers route a request to the secondary backend.
var DefaultSecondaryTriggers = []string{"gemini"}

var (
	// ErrEmptyText is returned by [Responder.Reply] for blank input.
	ErrEmptyText = errors.New("assistant: empty text")

	// ErrStopped is returned when the tracker is in emergency stop.
	ErrStopped = errors.New("assistant: actions are stopped")

	// ErrCancelled is returned when the reply's action was cancelled while
	// the completion was streaming.
	ErrCancelled = errors.New("assistant: reply cancelled")
)

// Tracker is the subset of [action.Tracker] used by the responder.
type Tracker interface {
	Start(d action.Descriptor) string
	AddLog(id, message string, sev action.Severity)
	Complete(id string, success bool)
	Cancel(id string)
	Status(id string) (action.Status, bool)
}

// Streamer streams a completion starting with a preferred backend and
// reports which backend answered. [resilience.LLMFallback] implements it.
type Streamer interface {
	StreamFrom(ctx context.Context, prefer string, req llm.CompletionRequest) (<-chan llm.Chunk, string, error)
}

// Config holds the responder settings.
type Config struct {
	SystemPrompt string

	// SecondaryName is the backend preferred when the text contains one of
	// SecondaryTriggers. Empty disables routing.
	SecondaryName     string
	SecondaryTriggers []string

	// Speak enables speech synthesis of replies when a TTS provider is set.
	Speak bool
	Voice tts.Voice

	MaxTokens int
}

// Option configures a [Responder].
type Option func(*Responder)

// WithTTS sets the speech synthesiser.
func WithTTS(p tts.Provider) Option {
	return func(r *Responder) { r.tts = p }
}

// WithMetrics records latencies on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// Reply is the outcome of a chat request.
type Reply struct {
	ActionID string
	Text     string

	// Provider is the name of the LLM backend that answered.
	Provider string

	// Audio holds the synthesised reply. It is nil when speech is disabled or
	// synthesis failed, in which case the client speaks Text itself.
	Audio []byte
}

// Responder turns chat text into assistant replies.
type Responder struct {
	llm     Streamer
	tracker Tracker
	cfg     Config
	tts     tts.Provider
	metrics *observe.Metrics
}

// New returns a Responder. Empty config fields get their defaults.
func New(s Streamer, t Tracker, cfg Config, opts ...Option) *Responder {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.SecondaryTriggers == nil {
		cfg.SecondaryTriggers = DefaultSecondaryTriggers
	}
	r := &Responder{llm: s, tracker: t, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// backendFor returns the backend to try first for text, or "" for the
// registration order.
func (r *Responder) backendFor(text string) string {
	if r.cfg.SecondaryName == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, trig := range r.cfg.SecondaryTriggers {
		if trig != "" && strings.Contains(lower, strings.ToLower(trig)) {
			return r.cfg.SecondaryName
		}
	}
	return ""
}

// Reply answers text in the context of conv and appends the exchange to it.
func (r *Responder) Reply(ctx context.Context, conv *Conversation, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	ctx, span := observe.StartSpan(ctx, "assistant.reply")
	defer span.End()
	log := observe.Logger(ctx)

	id := r.tracker.Start(action.Descriptor{
		Kind:        action.KindAPICall,
		Title:       "Assistant reply",
		Description: summarize(text, 80),
		Cancellable: true,
	})
	reply := Reply{ActionID: id}
	span.SetAttributes(attribute.String("action.id", id))
	if st, _ := r.tracker.Status(id); st == action.StatusPending {
		r.tracker.Cancel(id)
		log.Warn("assistant: emergency stop active, request dropped", "action", id)
		return reply, ErrStopped
	}

	req := llm.CompletionRequest{
		Messages:     append(conv.Messages(), llm.Message{Role: llm.RoleUser, Content: text}),
		SystemPrompt: r.cfg.SystemPrompt,
		MaxTokens:    r.cfg.MaxTokens,
	}
	prefer := r.backendFor(text)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	ch, name, err := r.llm.StreamFrom(streamCtx, prefer, req)
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, "llm", "llm", "error")
		r.tracker.AddLog(id, "llm request failed: "+err.Error(), action.SeverityError)
		r.tracker.Complete(id, false)
		fail(span, err)
		return reply, fmt.Errorf("assistant: stream completion: %w", err)
	}
	reply.Provider = name
	span.SetAttributes(attribute.String("llm.provider", name))
	r.tracker.AddLog(id, "streaming from "+name, action.SeverityInfo)

	var (
		b         strings.Builder
		streamErr error
	)
	for c := range ch {
		if c.Err != nil {
			streamErr = c.Err
			continue
		}
		b.WriteString(c.Text)
		if !r.running(id) {
			cancel()
			go drain(ch)
			log.Info("assistant: reply cancelled", "action", id, "provider", name)
			return reply, ErrCancelled
		}
	}

	if err := ctx.Err(); err != nil {
		r.tracker.Cancel(id)
		return reply, err
	}
	if !r.running(id) {
		return reply, ErrCancelled
	}
	if streamErr != nil {
		r.metrics.RecordProviderRequest(ctx, name, "llm", "error")
		r.metrics.RecordProviderError(ctx, name, "llm")
		r.tracker.AddLog(id, "llm stream failed: "+streamErr.Error(), action.SeverityError)
		r.tracker.Complete(id, false)
		fail(span, streamErr)
		return reply, fmt.Errorf("assistant: stream from %s: %w", name, streamErr)
	}

	r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	r.metrics.RecordProviderRequest(ctx, name, "llm", "ok")

	reply.Text = strings.TrimSpace(b.String())
	conv.Append(
		llm.Message{Role: llm.RoleUser, Content: text},
		llm.Message{Role: llm.RoleAssistant, Content: reply.Text},
	)

	if r.tts != nil && r.cfg.Speak && reply.Text != "" {
		reply.Audio = r.speak(ctx, id, reply.Text)
	}

	r.tracker.Complete(id, true)
	log.Debug("assistant: reply complete", "action", id, "provider", name, "chars", len(reply.Text))
	return reply, nil
}

// speak synthesises text. Failures are logged and yield nil audio.
func (r *Responder) speak(ctx context.Context, id, text string) []byte {
	ctx, span := observe.StartSpan(ctx, "assistant.speak",
		trace.WithAttributes(attribute.Int("tts.chars", len(text))))
	defer span.End()

	r.tracker.AddLog(id, "synthesising speech", action.SeverityInfo)
	start := time.Now()
	audio, err := tts.Synthesize(ctx, r.tts, text, r.cfg.Voice)
	if err != nil {
		fail(span, err)
		observe.Logger(ctx).Warn("assistant: speech synthesis failed", "action", id, "err", err)
		r.metrics.RecordProviderRequest(ctx, "tts", "tts", "error")
		r.metrics.RecordProviderError(ctx, "tts", "tts")
		r.tracker.AddLog(id, "speech synthesis failed, client voice used", action.SeverityWarning)
		return nil
	}
	r.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	r.metrics.RecordProviderRequest(ctx, "tts", "tts", "ok")
	return audio
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (r *Responder) running(id string) bool {
	st, ok := r.tracker.Status(id)
	return ok && st == action.StatusRunning
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}

func summarize(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}

// Conversation is a bounded chat history. It is safe for concurrent use.
type Conversation struct {
	mu       sync.Mutex
	messages []llm.Message
	limit    int
}

// NewConversation returns an empty history keeping at most limit messages.
// A limit below 1 selects [DefaultHistoryMessages].
func NewConversation(limit int) *Conversation {
	if limit < 1 {
		limit = DefaultHistoryMessages
	}
	return &Conversation{limit: limit}
}

// Append adds msgs and drops the oldest messages beyond the limit.
func (c *Conversation) Append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	if over := len(c.messages) - c.limit; over > 0 {
		c.messages = append([]llm.Message(nil), c.messages[over:]...)
	}
}

// Messages returns a copy of the history, oldest first.
func (c *Conversation) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.messages...)
}

// Reset clears the history.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.messages = nil
	c.mu.Unlock()
}
