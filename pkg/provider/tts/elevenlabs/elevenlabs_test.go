package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("eleven_flash_v2_5"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := p.streamURL("voice 1")
	for _, want := range []string{
		"wss://api.elevenlabs.io/v1/text-to-speech/voice%201/stream-input?",
		"model_id=eleven_flash_v2_5",
		"output_format=pcm_16000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("url %q missing %q", got, want)
		}
	}
}

func TestSettingsFor_Defaults(t *testing.T) {
	t.Parallel()

	vs := settingsFor(tts.Voice{ID: "v"})
	if vs.Stability != 0.5 || vs.SimilarityBoost != 0.75 {
		t.Errorf("defaults = %+v, want stability 0.5 similarity 0.75", vs)
	}
	vs = settingsFor(tts.Voice{ID: "v", Stability: 0.3, SimilarityBoost: 0.9})
	if vs.Stability != 0.3 || vs.SimilarityBoost != 0.9 {
		t.Errorf("explicit settings not kept: %+v", vs)
	}
}

func TestDecodeAudio(t *testing.T) {
	t.Parallel()

	audio := []byte{1, 2, 3}
	tests := []struct {
		name      string
		msg       string
		wantAudio []byte
		wantFinal bool
		wantErr   bool
	}{
		{"audio", `{"audio":"` + base64.StdEncoding.EncodeToString(audio) + `"}`, audio, false, false},
		{"final", `{"isFinal":true}`, nil, true, false},
		{"server error", `{"error":"quota_exceeded","message":"out of credits"}`, nil, true, true},
		{"garbage ignored", `not json`, nil, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, final, err := decodeAudio([]byte(tc.msg))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if final != tc.wantFinal {
				t.Errorf("final = %v, want %v", final, tc.wantFinal)
			}
			if string(got) != string(tc.wantAudio) {
				t.Errorf("audio = %v, want %v", got, tc.wantAudio)
			}
		})
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), make(chan string), tts.Voice{}); err == nil {
		t.Fatal("expected error for empty voice id")
	}
}

// fakeServer echoes one audio chunk per text fragment and finishes on the
// empty flush message.
func fakeServer(t *testing.T, received *[]textMessage, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg textMessage
			_ = json.Unmarshal(data, &msg)
			mu.Lock()
			*received = append(*received, msg)
			mu.Unlock()

			switch {
			case msg.Text == "":
				final, _ := json.Marshal(audioResponse{IsFinal: true})
				_ = conn.Write(r.Context(), websocket.MessageText, final)
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case msg.Text == " ":
			default:
				resp, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(msg.Text))})
				_ = conn.Write(r.Context(), websocket.MessageText, resp)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []textMessage
	)
	srv := fakeServer(t, &received, &mu)
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")

	p, err := New("secret", WithBaseURLs(wsBase, srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio, err := tts.Synthesize(ctx, p, "Good evening", tts.Voice{ID: "jarvis"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := string(audio); got != "Good evening " {
		t.Errorf("audio = %q, want %q", got, "Good evening ")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("server received %d messages, want 3", len(received))
	}
	if received[0].XiAPIKey != "secret" {
		t.Errorf("first message api key = %q", received[0].XiAPIKey)
	}
	if received[0].VoiceSettings == nil || received[0].VoiceSettings.Stability != 0.5 {
		t.Errorf("first message voice settings = %+v", received[0].VoiceSettings)
	}
	if received[2].Text != "" {
		t.Errorf("last message text = %q, want flush", received[2].Text)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "secret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"abc","name":"Daniel","category":"premade","labels":{"accent":"british"}}]}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("secret", WithBaseURLs("ws://unused", srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("voices = %d, want 1", len(voices))
	}
	v := voices[0]
	if v.ID != "abc" || v.Name != "Daniel" || v.Provider != "elevenlabs" {
		t.Errorf("voice = %+v", v)
	}
	if v.Metadata["category"] != "premade" || v.Metadata["accent"] != "british" {
		t.Errorf("metadata = %v", v.Metadata)
	}
}

func TestListVoices_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("bad", WithBaseURLs("ws://unused", srv.URL))
	if _, err := p.ListVoices(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
}
