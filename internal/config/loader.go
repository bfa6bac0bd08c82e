package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/jarvis/internal/action"
	"github.com/MrWong99/jarvis/internal/assistant"
	"github.com/MrWong99/jarvis/internal/speech"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr = ":8080"
	DefaultLanguage   = "pt-BR"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the default configuration.
//
// Provider api_key and base_url values may reference environment variables
// as $VAR or ${VAR}.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandProviderEnv(&cfg.Providers)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandProviderEnv(p *ProvidersConfig) {
	for _, e := range []*ProviderEntry{&p.LLM, &p.LLMSecondary, &p.STT, &p.TTS} {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
}

// ApplyDefaults fills unset fields of cfg with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	v := &cfg.Voice
	if v.Language == "" {
		v.Language = DefaultLanguage
	}
	if v.Recognizer == "" {
		v.Recognizer = RecognizerBrowser
	}
	d := speech.DefaultConfig()
	if v.CaptureTimeout == 0 {
		v.CaptureTimeout = d.CaptureTimeout
	}
	if v.CommandGrace == 0 {
		v.CommandGrace = d.CommandGrace
	}
	if v.RestartDelay == 0 {
		v.RestartDelay = d.RestartDelay
	}
	if v.ErrorRestartDelay == 0 {
		v.ErrorRestartDelay = d.ErrorRestartDelay
	}
	if v.MaxConsecutiveErrors == 0 {
		v.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}

	if cfg.Actions.HistoryLimit == 0 {
		cfg.Actions.HistoryLimit = action.DefaultHistoryLimit
	}

	a := &cfg.Assistant
	if a.HistoryMessages == 0 {
		a.HistoryMessages = assistant.DefaultHistoryMessages
	}
	if a.SecondaryTriggers == nil {
		a.SecondaryTriggers = slices.Clone(assistant.DefaultSecondaryTriggers)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Voice
	v := cfg.Voice
	if v.Recognizer != "" && !v.Recognizer.IsValid() {
		errs = append(errs, fmt.Errorf("voice.recognizer %q is invalid; valid values: browser, server", v.Recognizer))
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"capture_timeout", v.CaptureTimeout},
		{"command_grace", v.CommandGrace},
		{"restart_delay", v.RestartDelay},
		{"error_restart_delay", v.ErrorRestartDelay},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("voice.%s %s must not be negative", d.name, d.val))
		}
	}
	for i, p := range v.WakePhrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("voice.wake_phrases[%d] is empty", i))
		}
	}
	if v.Recognizer == RecognizerServer && !cfg.Providers.STT.Enabled() {
		errs = append(errs, errors.New("voice.recognizer \"server\" requires providers.stt to be configured"))
	}

	// Actions
	if cfg.Actions.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("actions.history_limit %d must not be negative", cfg.Actions.HistoryLimit))
	}

	// Assistant
	if cfg.Assistant.HistoryMessages < 0 {
		errs = append(errs, fmt.Errorf("assistant.history_messages %d must not be negative", cfg.Assistant.HistoryMessages))
	}
	if cfg.Assistant.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens %d must not be negative", cfg.Assistant.MaxTokens))
	}
	if cfg.Assistant.Speak && !cfg.Providers.TTS.Enabled() {
		slog.Warn("config: assistant.speak is set but providers.tts is not configured; replies will use the browser voice")
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMSecondary.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLMSecondary.Enabled() && !cfg.Providers.LLM.Enabled() {
		errs = append(errs, errors.New("providers.llm_secondary requires providers.llm to be configured"))
	}
	if !cfg.Providers.LLM.Enabled() {
		slog.Warn("config: no LLM provider configured; chat commands will not be answered")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
