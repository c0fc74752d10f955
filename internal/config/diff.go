package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChatChanged is set when the chat backend or its fallbacks changed.
	// The new backend applies to sessions opened after the reload.
	ChatChanged bool

	// ConversationChanged is set when the system prompt, temperature, token
	// limit or history window changed. Applies to new sessions.
	ConversationChanged bool

	// RestartRequired lists top-level settings that changed but are only
	// read at startup.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ChatChanged || d.ConversationChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Providers.Chat, new.Providers.Chat) ||
		!reflect.DeepEqual(old.Providers.ChatFallbacks, new.Providers.ChatFallbacks) {
		d.ChatChanged = true
	}

	op, np := old.Pipeline, new.Pipeline
	if op.SystemPrompt != np.SystemPrompt || op.Temperature != np.Temperature ||
		op.MaxTokens != np.MaxTokens || op.HistoryLimit != np.HistoryLimit {
		d.ConversationChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	for _, p := range []struct {
		name     string
		old, new ProviderEntry
	}{
		{"providers.stt", old.Providers.STT, new.Providers.STT},
		{"providers.tts", old.Providers.TTS, new.Providers.TTS},
		{"providers.image", old.Providers.Image, new.Providers.Image},
	} {
		if !reflect.DeepEqual(p.old, p.new) {
			d.RestartRequired = append(d.RestartRequired, p.name)
		}
	}
	if op.BackendTimeout != np.BackendTimeout || op.Language != np.Language || op.Voice != np.Voice {
		d.RestartRequired = append(d.RestartRequired, "pipeline")
	}

	return d
}
