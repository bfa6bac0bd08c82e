package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when any voice setting differs. The new values
	// apply to dashboards that connect afterwards.
	VoiceChanged bool

	// OriginsChanged is set when server.allowed_origins differs. Applied to
	// new connections.
	OriginsChanged bool

	// RestartRequired lists the changed settings that only take effect after
	// a restart, as dotted YAML paths.
	RestartRequired []string
}

// HotReloadable reports whether d contains changes that can be applied
// without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.OriginsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VoiceChanged = !voiceEqual(old.Voice, new.Voice)
	d.OriginsChanged = !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins)

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("actions.history_limit", old.Actions.HistoryLimit != new.Actions.HistoryLimit)
	restart("assistant", !assistantEqual(old.Assistant, new.Assistant))
	restart("providers.llm", !entryEqual(old.Providers.LLM, new.Providers.LLM))
	restart("providers.llm_secondary", !entryEqual(old.Providers.LLMSecondary, new.Providers.LLMSecondary))
	restart("providers.stt", !entryEqual(old.Providers.STT, new.Providers.STT))
	restart("providers.tts", !entryEqual(old.Providers.TTS, new.Providers.TTS))

	return d
}

func voiceEqual(a, b VoiceConfig) bool {
	return a.Language == b.Language &&
		a.Recognizer == b.Recognizer &&
		slices.Equal(a.WakePhrases, b.WakePhrases) &&
		a.PhoneticWake == b.PhoneticWake &&
		a.CaptureTimeout == b.CaptureTimeout &&
		a.CommandGrace == b.CommandGrace &&
		a.RestartDelay == b.RestartDelay &&
		a.ErrorRestartDelay == b.ErrorRestartDelay &&
		a.MaxConsecutiveErrors == b.MaxConsecutiveErrors
}

func assistantEqual(a, b AssistantConfig) bool {
	return a.SystemPrompt == b.SystemPrompt &&
		slices.Equal(a.SecondaryTriggers, b.SecondaryTriggers) &&
		a.Speak == b.Speak &&
		a.VoiceID == b.VoiceID &&
		a.HistoryMessages == b.HistoryMessages &&
		a.MaxTokens == b.MaxTokens
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// entryEqual compares Options deeply since YAML may decode nested lists and
// maps into them.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model &&
		reflect.DeepEqual(a.Options, b.Options)
}
