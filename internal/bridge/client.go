package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/assistant"
	"github.com/MrWong99/jarvis/internal/speech"
	"github.com/MrWong99/jarvis/internal/voicecmd"
)

const (
	helloTimeout  = 10 * time.Second
	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
	chatQueueSize = 4
)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// Client is one connected browser. All of its goroutines stop when the
// connection closes.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	cfg  Config
	log  *slog.Logger

	send      chan frame
	slowOnce  sync.Once
	chats     chan string
	stateSeen chan struct{}

	session *speech.Session
	browser *browserStream
	audio   io.Writer
	conv    *assistant.Conversation
}

func newClient(h *Hub, conn *websocket.Conn, cfg Config, log *slog.Logger) *Client {
	return &Client{
		hub:       h,
		conn:      conn,
		cfg:       cfg,
		log:       log,
		send:      make(chan frame, sendQueueSize),
		chats:     make(chan string, chatQueueSize),
		stateSeen: make(chan struct{}, 1),
		conv:      assistant.NewConversation(cfg.HistoryMessages),
	}
}

// run waits for the hello message, then serves the connection until it is
// closed or ctx is cancelled.
func (c *Client) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hello, err := c.readHello(ctx)
	if err != nil {
		return err
	}
	c.session, c.browser, c.audio = c.hub.newSession(c, hello)
	c.log.Debug("bridge: session created",
		"speech_supported", hello.SpeechSupported,
		"recognizer_supported", c.session.Supported())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.session.Run(gctx) })
	g.Go(func() error { return c.commandLoop(gctx) })
	g.Go(func() error { return c.chatLoop(gctx) })
	g.Go(func() error { return c.stateLoop(gctx) })
	g.Go(func() error { return c.actionsLoop(gctx) })
	g.Go(func() error {
		defer cancel()
		return c.readLoop(gctx)
	})
	return g.Wait()
}

func (c *Client) readHello(ctx context.Context) (Inbound, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var msg Inbound
	if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
		return msg, fmt.Errorf("bridge: read hello: %w", err)
	}
	if msg.Type != TypeHello {
		return msg, fmt.Errorf("bridge: expected %q message, got %q", TypeHello, msg.Type)
	}
	return msg, nil
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			return fmt.Errorf("bridge: read: %w", err)
		}
		if typ == websocket.MessageBinary {
			c.handleAudio(data)
			continue
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}
		c.handle(ctx, msg)
	}
}

func isClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF)
}

func (c *Client) handle(ctx context.Context, msg Inbound) {
	var err error
	switch msg.Type {
	case TypeWakeStart:
		err = c.session.StartWakeWordDetection(ctx)
	case TypeWakeStop:
		err = c.session.StopWakeWordDetection(ctx)
	case TypeListenStart:
		err = c.session.StartListening(ctx)
	case TypeListenStop:
		err = c.session.StopListening(ctx)
	case TypeRecognitionResult:
		if c.browser != nil {
			c.browser.result(msg.Gen, speech.Result{Segments: msg.Segments})
		}
	case TypeRecognitionEnd:
		if c.browser != nil {
			c.browser.end(msg.Gen)
		}
	case TypeRecognitionError:
		if c.browser != nil {
			c.browser.fail(msg.Gen, fmt.Errorf("bridge: browser recognition error: %s", msg.Error))
		}
	case TypeChat:
		c.enqueueChat(msg.Text)
	case TypeHello:
		c.log.Debug("bridge: ignoring repeated hello")
	default:
		c.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}

	switch {
	case err == nil:
	case errors.Is(err, speech.ErrUnsupported):
		c.sendError("speech recognition is not supported")
	case ctx.Err() == nil:
		c.log.Warn("bridge: voice operation failed", "type", msg.Type, "err", err)
	}
}

func (c *Client) handleAudio(data []byte) {
	if c.audio == nil {
		return
	}
	if _, err := c.audio.Write(data); err != nil {
		c.log.Debug("bridge: dropping audio frame", "err", err)
	}
}

// commandLoop routes every command emitted by the session. Emergency stop
// and resume are applied here directly so they are not queued behind a
// running chat reply.
func (c *Client) commandLoop(ctx context.Context) error {
	for cmd := range c.session.Commands() {
		if _, err := c.session.TakeCommand(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, speech.ErrClosed) {
			c.log.Debug("bridge: take command failed", "err", err)
		}
		in := c.hub.router.Dispatch(cmd.Text)
		c.sendJSON(VoiceCommand{
			Type:   TypeVoiceCommand,
			Text:   cmd.Text,
			Source: cmd.Source,
			Intent: in.Kind,
			Panel:  in.Panel,
		})
		if in.Kind == voicecmd.KindChat {
			c.enqueueChat(in.Text)
		}
	}
	return nil
}

func (c *Client) enqueueChat(text string) {
	select {
	case c.chats <- text:
	default:
		c.sendError("assistant is busy, request dropped")
	}
}

func (c *Client) chatLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-c.chats:
			c.reply(ctx, text)
		}
	}
}

func (c *Client) reply(ctx context.Context, text string) {
	if c.hub.replier == nil {
		c.sendError("assistant is not configured")
		return
	}
	rep, err := c.hub.replier.Reply(ctx, c.conv, text)
	switch {
	case err == nil:
	case errors.Is(err, assistant.ErrCancelled), ctx.Err() != nil:
		return
	case errors.Is(err, assistant.ErrEmptyText):
		return
	case errors.Is(err, assistant.ErrStopped):
		c.sendError("emergency stop is active")
		return
	default:
		c.log.Warn("bridge: assistant reply failed", "err", err)
		c.sendError("assistant failed to answer")
		return
	}

	c.sendJSON(AssistantReply{
		Type:     TypeAssistantReply,
		ActionID: rep.ActionID,
		Text:     rep.Text,
		Provider: rep.Provider,
		HasAudio: len(rep.Audio) > 0,
	})
	if len(rep.Audio) > 0 {
		c.enqueue(frame{typ: websocket.MessageBinary, data: rep.Audio})
	}
}

// onState is the session state listener. It runs on the session loop and
// must not block.
func (c *Client) onState(speech.Snapshot) {
	select {
	case c.stateSeen <- struct{}{}:
	default:
	}
}

func (c *Client) stateLoop(ctx context.Context) error {
	c.sendJSON(VoiceState{Type: TypeVoiceState, State: c.session.Snapshot()})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stateSeen:
			c.sendJSON(VoiceState{Type: TypeVoiceState, State: c.session.Snapshot()})
		}
	}
}

func (c *Client) actionsLoop(ctx context.Context) error {
	changed, stop := c.hub.tracker.Watch()
	defer stop()

	c.sendJSON(actionsMessage(c.hub.tracker))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			c.sendJSON(actionsMessage(c.hub.tracker))
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, f.typ, f.data)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("bridge: write: %w", err)
			}
		}
	}
}

func (c *Client) sendError(msg string) {
	c.sendJSON(Error{Type: TypeError, Message: msg})
}

// sendJSON queues v as a text frame. It never blocks.
func (c *Client) sendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("bridge: failed to encode message", "err", err)
		return false
	}
	return c.enqueue(frame{typ: websocket.MessageText, data: data})
}

// enqueue queues f for the write loop. A client that falls a full queue
// behind is disconnected.
func (c *Client) enqueue(f frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		c.slowOnce.Do(func() {
			c.log.Warn("bridge: send queue full, disconnecting client")
			go c.conn.Close(websocket.StatusPolicyViolation, "send queue full")
		})
		return false
	}
}
