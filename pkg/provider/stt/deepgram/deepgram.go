// Package deepgram provides an STT provider backed by the Deepgram streaming
// WebSocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "pt-BR"
	defaultSampleRate = 16000

	// Deepgram closes idle streams after ten seconds without audio.
	keepAliveInterval = 5 * time.Second
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default input sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointing sets how much trailing silence finalises an utterance.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointing = d }
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements [stt.Provider].
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	endpointing time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Deepgram provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream implements [stt.Provider].
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)
	return sess, nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	}

	// Nova-3 replaced weighted keywords with unweighted key terms.
	keyterms := strings.HasPrefix(p.model, "nova-3")
	for _, kw := range cfg.Keywords {
		if keyterms {
			q.Add("keyterm", kw.Keyword)
		} else {
			q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`

	// Error messages.
	Description string `json:"description"`
	Message     string `json:"message"`
}

// session implements [stt.SessionHandle].
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// CloseStream asks Deepgram to flush pending results before closing.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.setErr(fmt.Errorf("deepgram: write audio: %w", err))
				return
			}
			keepAlive.Reset(keepAliveInterval)
		case <-keepAlive.C:
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
					s.setErr(fmt.Errorf("deepgram: read: %w", err))
				}
			}
			return
		}

		t, err := parseResponse(msg)
		if err != nil {
			s.setErr(err)
			return
		}
		if t == nil {
			continue
		}

		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- *t:
		case <-s.done:
			return
		}
	}
}

// parseResponse returns the transcript carried by a Results message, nil for
// messages that should be ignored, or an error for server-reported failures.
func parseResponse(data []byte) (*stt.Transcript, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, nil
	}
	switch resp.Type {
	case "Results":
	case "Error":
		return nil, fmt.Errorf("deepgram: server error: %s", strings.TrimSpace(resp.Description+" "+resp.Message))
	default:
		return nil, nil
	}
	if len(resp.Channel.Alternatives) == 0 {
		return nil, nil
	}
	alt := resp.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return nil, nil
	}
	return &stt.Transcript{Text: alt.Transcript, IsFinal: resp.IsFinal, Confidence: alt.Confidence}, nil
}
