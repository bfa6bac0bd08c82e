package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

func query(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL %q: %v", raw, err)
	}
	return u.Query()
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		opts  []Option
		cfg   stt.StreamConfig
		check func(t *testing.T, q url.Values)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, q url.Values) {
				want := map[string]string{
					"model":           "nova-3",
					"language":        "pt-BR",
					"sample_rate":     "16000",
					"interim_results": "true",
					"encoding":        "linear16",
				}
				for k, v := range want {
					if got := q.Get(k); got != v {
						t.Errorf("%s = %q, want %q", k, got, v)
					}
				}
				if q.Has("endpointing") {
					t.Error("endpointing should be unset by default")
				}
			},
		},
		{
			name: "config overrides language and rate",
			cfg:  stt.StreamConfig{Language: "en-US", SampleRate: 48000, Channels: 1},
			check: func(t *testing.T, q url.Values) {
				if q.Get("language") != "en-US" || q.Get("sample_rate") != "48000" || q.Get("channels") != "1" {
					t.Errorf("query = %v", q)
				}
			},
		},
		{
			name: "nova-3 uses keyterm",
			cfg:  stt.StreamConfig{Keywords: []stt.KeywordBoost{{Keyword: "jarvis", Boost: 5}}},
			check: func(t *testing.T, q url.Values) {
				if got := q["keyterm"]; len(got) != 1 || got[0] != "jarvis" {
					t.Errorf("keyterm = %v", got)
				}
				if q.Has("keywords") {
					t.Error("keywords should not be set for nova-3")
				}
			},
		},
		{
			name: "older models use weighted keywords",
			opts: []Option{WithModel("nova-2"), WithEndpointing(300 * time.Millisecond)},
			cfg:  stt.StreamConfig{Keywords: []stt.KeywordBoost{{Keyword: "jarvis", Boost: 5}, {Keyword: "jarves", Boost: 2.5}}},
			check: func(t *testing.T, q url.Values) {
				got := q["keywords"]
				if len(got) != 2 || got[0] != "jarvis:5" || got[1] != "jarves:2.5" {
					t.Errorf("keywords = %v", got)
				}
				if q.Get("endpointing") != "300" {
					t.Errorf("endpointing = %q, want 300", q.Get("endpointing"))
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("key", tc.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			raw, err := p.buildURL(tc.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			if !strings.HasPrefix(raw, "wss://api.deepgram.com/v1/listen?") {
				t.Errorf("url = %q", raw)
			}
			tc.check(t, query(t, raw))
		})
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		msg       string
		wantText  string
		wantFinal bool
		wantNil   bool
		wantErr   bool
	}{
		{
			name:      "final",
			msg:       `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"jarvis abre o painel","confidence":0.93}]}}`,
			wantText:  "jarvis abre o painel",
			wantFinal: true,
		},
		{
			name:     "partial",
			msg:      `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"jarvis abre"}]}}`,
			wantText: "jarvis abre",
		},
		{name: "empty final ignored", msg: `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`, wantNil: true},
		{name: "metadata ignored", msg: `{"type":"Metadata"}`, wantNil: true},
		{name: "no alternatives", msg: `{"type":"Results","channel":{"alternatives":[]}}`, wantNil: true},
		{name: "invalid json", msg: `{`, wantNil: true},
		{name: "server error", msg: `{"type":"Error","description":"bad audio","message":"unsupported encoding"}`, wantNil: true, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseResponse([]byte(tc.msg))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantNil {
				if got != nil {
					t.Errorf("got %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("got nil transcript")
			}
			if got.Text != tc.wantText || got.IsFinal != tc.wantFinal {
				t.Errorf("got %+v, want text %q final %v", got, tc.wantText, tc.wantFinal)
			}
		})
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestSession_RoundTrip(t *testing.T) {
	t.Parallel()

	gotAudio := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		typ, data, err := conn.Read(r.Context())
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		gotAudio <- data
		_ = conn.Write(r.Context(), websocket.MessageText,
			[]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"jarvis"}]}}`))
		_ = conn.Write(r.Context(), websocket.MessageText,
			[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"jarvis status"}]}}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case data := <-gotAudio:
		if len(data) != 4 {
			t.Errorf("server got %d bytes, want 4", len(data))
		}
	case <-ctx.Done():
		t.Fatal("server did not receive audio")
	}

	select {
	case tr := <-sess.Partials():
		if tr.Text != "jarvis" {
			t.Errorf("partial = %q", tr.Text)
		}
	case <-ctx.Done():
		t.Fatal("no partial")
	}
	select {
	case tr := <-sess.Finals():
		if tr.Text != "jarvis status" {
			t.Errorf("final = %q", tr.Text)
		}
	case <-ctx.Done():
		t.Fatal("no final")
	}

	// The server closed normally, so both channels close without error.
	for range sess.Finals() {
	}
	for range sess.Partials() {
	}
	if err := sess.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
