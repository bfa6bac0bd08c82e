// Package bridge connects browser dashboards to the server over websockets.
//
// Each connection gets its own [speech.Session]. Recognition runs either in
// the browser, which streams recognition events to the server and receives
// recognition.start/stop instructions, or on the server, in which case the
// browser sends raw PCM frames that are forwarded to an STT provider.
// Commands produced by the session are routed with [voicecmd]; chat commands
// are answered by the assistant. Action tracker changes are pushed to every
// client as they happen.
//
// Messages are JSON text frames with a "type" field (see protocol.go).
// Binary frames carry audio: PCM from the browser, synthesised speech to it.
package bridge

import (
	"context"
	"io"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/internal/action"
	"github.com/MrWong99/jarvis/internal/assistant"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/speech"
	"github.com/MrWong99/jarvis/internal/speech/sttstream"
	"github.com/MrWong99/jarvis/internal/voicecmd"
	"github.com/MrWong99/jarvis/internal/wakeword"
	"github.com/MrWong99/jarvis/pkg/pcm"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

// Recognizer locations.
const (
	RecognizerBrowser = "browser"
	RecognizerServer  = "server"
)

// maxMessageSize bounds inbound frames, which may carry PCM audio.
const maxMessageSize = 1 << 20

// serverSampleRate is the PCM rate expected from browsers when recognition
// runs on the server.
const serverSampleRate = 16000

// Config holds the per-connection settings. It is read when a client
// connects, so changes only affect new connections.
type Config struct {
	// Language is the BCP-47 recognition language.
	Language string

	// Recognizer is [RecognizerBrowser] or [RecognizerServer].
	Recognizer string

	Speech speech.Config

	// WakePhrases replaces the default wake phrase variants when non-empty.
	WakePhrases  []string
	PhoneticWake bool

	HistoryMessages int

	// OriginPatterns lists additional host patterns allowed to connect. See
	// [websocket.AcceptOptions].
	OriginPatterns []string
}

// Replier answers chat text. [*assistant.Responder] implements it.
type Replier interface {
	Reply(ctx context.Context, conv *assistant.Conversation, text string) (assistant.Reply, error)
}

// Option configures a [Hub].
type Option func(*Hub)

// WithSTT enables server-side recognition through p. name labels the
// provider in metrics.
func WithSTT(p stt.Provider, name string) Option {
	return func(h *Hub) {
		h.stt = p
		h.sttName = name
	}
}

// WithReplier sets the assistant used for chat commands. Without one, chat
// requests are answered with an error message.
func WithReplier(r Replier) Option {
	return func(h *Hub) { h.replier = r }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub accepts websocket connections and owns the connected clients.
type Hub struct {
	tracker *action.Tracker
	router  *voicecmd.Router
	replier Replier
	stt     stt.Provider
	sttName string
	metrics *observe.Metrics

	cfgMu sync.RWMutex
	cfg   Config

	mu      sync.Mutex
	clients map[*Client]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewHub returns a Hub serving tracker state and routing commands through
// router.
func NewHub(tracker *action.Tracker, router *voicecmd.Router, cfg Config, opts ...Option) *Hub {
	h := &Hub{
		tracker: tracker,
		router:  router,
		cfg:     cfg,
		clients: make(map[*Client]context.CancelFunc),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// SetConfig replaces the configuration used for new connections.
func (h *Hub) SetConfig(cfg Config) {
	h.cfgMu.Lock()
	h.cfg = cfg
	h.cfgMu.Unlock()
}

// Config returns the configuration used for new connections.
func (h *Hub) Config() Config {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

// Register adds the websocket route to mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", h)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cfg.OriginPatterns})
	if err != nil {
		observe.Logger(r.Context()).Warn("bridge: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The request span from the HTTP middleware ties the client's logs to
	// the upgrade request.
	c := newClient(h, conn, cfg, observe.Logger(ctx).With("remote", r.RemoteAddr))
	if !h.add(c, cancel) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)

	h.metrics.ActiveClients.Add(ctx, 1)
	defer h.metrics.ActiveClients.Add(context.WithoutCancel(ctx), -1)
	c.log.Info("bridge: client connected")

	if err := c.run(ctx); err != nil {
		c.log.Warn("bridge: client failed", "err", err)
		conn.Close(websocket.StatusPolicyViolation, closeReason(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
	c.log.Info("bridge: client disconnected")
}

func (h *Hub) add(c *Client, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = cancel
	h.wg.Add(1)
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.wg.Done()
}

// Close disconnects every client and waits for their sessions to stop. New
// connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, cancel := range h.clients {
		cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// newSession builds the recognition session for c from the browser's hello
// message.
func (h *Hub) newSession(c *Client, hello Inbound) (*speech.Session, *browserStream, io.Writer) {
	cfg := c.cfg

	var wopts []wakeword.Option
	if len(cfg.WakePhrases) > 0 {
		wopts = append(wopts, wakeword.WithVariants(cfg.WakePhrases...))
	}
	if cfg.PhoneticWake {
		wopts = append(wopts, wakeword.WithPhonetic("jarvis", 0))
	}
	matcher := wakeword.New(wopts...)

	var (
		stream  speech.Stream
		browser *browserStream
		audio   io.Writer
	)
	switch {
	case cfg.Recognizer == RecognizerServer && h.stt != nil:
		s := sttstream.New(h.stt, stt.StreamConfig{
			SampleRate: serverSampleRate,
			Channels:   1,
			Language:   cfg.Language,
			Keywords:   sttstream.Keywords(matcher.Variants()),
		}, sttstream.WithProviderName(h.sttName), sttstream.WithMetrics(h.metrics))
		stream, audio = s, s
		if in := (pcm.Format{SampleRate: hello.SampleRate, Channels: hello.Channels}); in.Valid() {
			w, err := pcm.NewWriter(s, in, serverSampleRate)
			if err != nil {
				c.log.Warn("bridge: unsupported audio format, forwarding raw", "err", err)
			} else if !w.Passthrough() {
				audio = w
			}
		}
	case hello.SpeechSupported:
		browser = newBrowserStream(cfg.Language, c.sendJSON)
		stream = browser
	}

	sess := speech.New(stream,
		speech.WithConfig(cfg.Speech),
		speech.WithMatcher(matcher),
		speech.WithMetrics(h.metrics),
		speech.WithLogger(c.log),
		speech.WithStateListener(c.onState),
	)
	return sess, browser, audio
}

// closeReason shortens err to fit a close frame.
func closeReason(err error) string {
	const maxReason = 120
	msg := err.Error()
	if len(msg) <= maxReason {
		return msg
	}
	cut := maxReason
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
