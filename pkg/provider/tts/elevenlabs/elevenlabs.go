// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// streaming WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

const (
	defaultWSBase     = "wss://api.elevenlabs.io"
	defaultHTTPBase   = "https://api.elevenlabs.io"
	defaultModel      = "eleven_multilingual_v2"
	defaultOutputFmt  = "mp3_44100_128"
	defaultStability  = 0.5
	defaultSimilarity = 0.75
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the audio output format (e.g. "mp3_44100_128",
// "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURLs overrides the WebSocket and REST base URLs.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = wsBase
		p.httpBase = httpBase
	}
}

// Provider implements [tts.Provider].
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates an ElevenLabs provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// textMessage is sent for every text fragment. The first message carries the
// API key and voice settings; {"text":""} ends the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func settingsFor(v tts.Voice) *voiceSettings {
	vs := &voiceSettings{Stability: v.Stability, SimilarityBoost: v.SimilarityBoost}
	if vs.Stability == 0 {
		vs.Stability = defaultStability
	}
	if vs.SimilarityBoost == 0 {
		vs.SimilarityBoost = defaultSimilarity
	}
	return vs
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voiceID), q.Encode())
}

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// ElevenLabs requires a non-empty first text value.
	first, _ := json.Marshal(textMessage{Text: " ", VoiceSettings: settingsFor(voice), XiAPIKey: p.apiKey})
	if err := conn.Write(ctx, websocket.MessageText, first); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("elevenlabs: send init: %w", err)
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, msg, err := conn.Read(ctx)
				if err != nil {
					return
				}
				pcm, final, err := decodeAudio(msg)
				if err != nil {
					slog.Warn("elevenlabs: stream message", "err", err)
					return
				}
				if len(pcm) > 0 {
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				}
				if final {
					return
				}
			}
		}()

		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					flush, _ := json.Marshal(textMessage{Text: ""})
					_ = conn.Write(ctx, websocket.MessageText, flush)
					<-readDone
					return
				}
				if fragment == "" {
					continue
				}
				msg, _ := json.Marshal(textMessage{Text: fragment + " "})
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			case <-readDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// decodeAudio parses a server message. It returns the decoded audio, whether
// the message ends the stream, and an error for server-reported failures.
func decodeAudio(msg []byte) ([]byte, bool, error) {
	var resp audioResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, false, nil
	}
	if resp.Error != "" {
		return nil, true, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
	}
	if resp.Audio == "" {
		return nil, resp.IsFinal, nil
	}
	audio, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, resp.IsFinal, nil
	}
	return audio, resp.IsFinal, nil
}

type voicesResponse struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}

	voices := make([]tts.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, tts.Voice{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return voices, nil
}
