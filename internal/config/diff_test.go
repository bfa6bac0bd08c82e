package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Voice: config.VoiceConfig{WakePhrases: []string{"jarvis"}},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Options: map[string]any{"temperature": 0.2}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.VoiceChanged || d.OriginsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff, got %+v", d)
	}
	if d.HotReloadable() {
		t.Error("empty diff reported hot-reloadable")
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantVoice   bool
		wantOrigins bool
		wantRestart []string
	}{
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:      "wake phrases",
			mutate:    func(c *config.Config) { c.Voice.WakePhrases = append(c.Voice.WakePhrases, "jervis") },
			wantVoice: true,
		},
		{
			name:      "capture timeout",
			mutate:    func(c *config.Config) { c.Voice.CaptureTimeout = 3 * time.Second },
			wantVoice: true,
		},
		{
			name:        "origins",
			mutate:      func(c *config.Config) { c.Server.AllowedOrigins = []string{"example.com"} },
			wantOrigins: true,
		},
		{
			name:        "listen addr",
			mutate:      func(c *config.Config) { c.Server.ListenAddr = ":1" },
			wantRestart: []string{"server.listen_addr"},
		},
		{
			name: "tls enabled",
			mutate: func(c *config.Config) {
				c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
			},
			wantRestart: []string{"server.tls"},
		},
		{
			name:        "assistant triggers",
			mutate:      func(c *config.Config) { c.Assistant.SecondaryTriggers = []string{"bard"} },
			wantRestart: []string{"assistant"},
		},
		{
			name: "providers",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Model = "gpt-4o-mini"
				c.Providers.TTS.Name = "elevenlabs"
			},
			wantRestart: []string{"providers.llm", "providers.tts"},
		},
		{
			name:        "provider options",
			mutate:      func(c *config.Config) { c.Providers.LLM.Options = map[string]any{"temperature": 0.9} },
			wantRestart: []string{"providers.llm"},
		},
		{
			name: "nested provider options",
			mutate: func(c *config.Config) {
				c.Providers.LLM.Options = map[string]any{"temperature": 0.2, "stop": []any{"END"}}
			},
			wantRestart: []string{"providers.llm"},
		},
		{
			name:      "wake phrases replaced",
			mutate:    func(c *config.Config) { c.Voice.WakePhrases = []string{"jervis"} },
			wantVoice: true,
		},
		{
			name:        "assistant speak",
			mutate:      func(c *config.Config) { c.Assistant.Speak = true },
			wantRestart: []string{"assistant"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)
			if d.LogLevelChanged != tt.wantLog || d.VoiceChanged != tt.wantVoice || d.OriginsChanged != tt.wantOrigins {
				t.Errorf("diff = %+v", d)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			if tt.wantLog && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.HotReloadable() != (tt.wantLog || tt.wantVoice || tt.wantOrigins) {
				t.Errorf("HotReloadable = %v", d.HotReloadable())
			}
		})
	}
}
