// Package config provides the configuration schema, loader, and provider registry
// for the jarvis server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the jarvis server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Recognizer selects where speech recognition runs.
type Recognizer string

const (
	// RecognizerBrowser uses the dashboard's built-in speech recognition.
	RecognizerBrowser Recognizer = "browser"

	// RecognizerServer streams PCM from the browser to the configured STT
	// provider.
	RecognizerServer Recognizer = "server"
)

// IsValid reports whether r is a recognised recognizer location.
func (r Recognizer) IsValid() bool {
	return r == RecognizerBrowser || r == RecognizerServer
}

// Config is the root configuration structure for jarvis.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Voice     VoiceConfig     `yaml:"voice"`
	Actions   ActionsConfig   `yaml:"actions"`
	Assistant AssistantConfig `yaml:"assistant"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the jarvis server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists extra host patterns allowed to open the dashboard
	// websocket, e.g. "localhost:5173". Same-origin requests are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds paths to PEM-encoded certificate and key files.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// VoiceConfig tunes the wake-word recognition session. Durations are written
// as Go duration strings ("10s", "500ms"). Zero values select the defaults.
type VoiceConfig struct {
	// Language is the BCP-47 recognition language. Defaults to "pt-BR".
	Language string `yaml:"language"`

	Recognizer Recognizer `yaml:"recognizer"`

	// WakePhrases replaces the built-in wake phrase variants.
	WakePhrases []string `yaml:"wake_phrases"`

	// PhoneticWake additionally accepts words that sound like "jarvis".
	PhoneticWake bool `yaml:"phonetic_wake"`

	CaptureTimeout    time.Duration `yaml:"capture_timeout"`
	CommandGrace      time.Duration `yaml:"command_grace"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
	ErrorRestartDelay time.Duration `yaml:"error_restart_delay"`

	// MaxConsecutiveErrors disarms listening after this many stream errors in
	// a row. Zero selects the default; a negative value removes the cap.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// ActionsConfig configures the action tracker.
type ActionsConfig struct {
	// HistoryLimit is the number of actions retained, newest first.
	HistoryLimit int `yaml:"history_limit"`
}

// AssistantConfig configures the chat assistant.
type AssistantConfig struct {
	// SystemPrompt overrides the built-in persona.
	SystemPrompt string `yaml:"system_prompt"`

	// SecondaryTriggers are words that route a request to the secondary LLM
	// (for example "gemini").
	SecondaryTriggers []string `yaml:"secondary_triggers"`

	// Speak synthesises replies with the TTS provider.
	Speak bool `yaml:"speak"`

	// VoiceID selects the TTS voice.
	VoiceID string `yaml:"voice_id"`

	// HistoryMessages bounds the conversation sent with each request.
	HistoryMessages int `yaml:"history_messages"`

	MaxTokens int `yaml:"max_tokens"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each field selects a named provider registered in the [Registry].
// Entries with an empty Name are disabled.
type ProvidersConfig struct {
	// LLM is the primary language model.
	LLM ProviderEntry `yaml:"llm"`

	// LLMSecondary is used when a request names it and as failover for LLM.
	LLMSecondary ProviderEntry `yaml:"llm_secondary"`

	// STT is required when voice.recognizer is "server".
	STT ProviderEntry `yaml:"stt"`

	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the configuration for a single provider.
type ProviderEntry struct {
	// Name is the registered provider name (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key. Use a $VAR reference rather than
	// committing keys to the file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// Enabled reports whether the entry selects a provider.
func (e ProviderEntry) Enabled() bool { return e.Name != "" }
