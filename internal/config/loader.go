package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultChatProvider is used when providers.chat.name is empty, and is the
// fallback when the configured chat backend cannot be created.
const DefaultChatProvider = "deepseek"

// Hotkey defaults.
const (
	DefaultPrimaryKey  = "alt_r"
	DefaultModifierKey = "shift_r"
)

// ALSA commands used by the push-to-talk client when the config names none.
var (
	DefaultRecordCommand = []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav"}
	DefaultPlayCommand   = []string{"aplay", "-q"}
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"chat":  {"openai", "deepseek", "ollama", "anthropic", "gemini", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":   {"whisper", "openai"},
	"tts":   {"coqui", "openai", "elevenlabs"},
	"image": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Chat.Name == "" {
		cfg.Providers.Chat.Name = DefaultChatProvider
	}
	if cfg.Hotkey.Primary == "" {
		cfg.Hotkey.Primary = DefaultPrimaryKey
	}
	if cfg.Hotkey.Modifier == "" {
		cfg.Hotkey.Modifier = DefaultModifierKey
	}
	if cfg.PTT.ServerURL == "" {
		cfg.PTT.ServerURL = "ws://localhost:8080/ws"
	}
	if len(cfg.PTT.RecordCommand) == 0 {
		cfg.PTT.RecordCommand = slices.Clone(DefaultRecordCommand)
	}
	if len(cfg.PTT.PlayCommand) == 0 {
		cfg.PTT.PlayCommand = slices.Clone(DefaultPlayCommand)
	}
}

// ModifierKey returns the configured modifier, or "" when translate mode is
// switched off with "none".
func (h HotkeyConfig) ModifierKey() string {
	if strings.EqualFold(strings.TrimSpace(h.Modifier), "none") {
		return ""
	}
	return h.Modifier
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions %d must not be negative", cfg.Server.MaxSessions))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Unknown provider names only warn.
	validateProviderName("chat", cfg.Providers.Chat.Name)
	for i, fb := range cfg.Providers.ChatFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.chat_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("chat", fb.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("image", cfg.Providers.Image.Name)

	// Provider availability warnings
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice input will fail")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will be text only")
	}

	// Pipeline
	p := cfg.Pipeline
	if p.BackendTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.backend_timeout %s must not be negative", p.BackendTimeout.Std()))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", p.MaxTokens))
	}
	if p.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("pipeline.history_limit %d must not be negative", p.HistoryLimit))
	}
	if p.Voice.SpeedFactor != 0 && (p.Voice.SpeedFactor < 0.5 || p.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("pipeline.voice.speed_factor %.2f is out of range [0.5, 2.0]", p.Voice.SpeedFactor))
	}

	// Hotkey. Key names are checked by the client, which degrades instead of
	// refusing to start.
	if cfg.Hotkey.HoldThreshold < 0 {
		errs = append(errs, fmt.Errorf("hotkey.hold_threshold %s must not be negative", cfg.Hotkey.HoldThreshold.Std()))
	}
	if cfg.Hotkey.ClearDelay < 0 {
		errs = append(errs, fmt.Errorf("hotkey.clear_delay %s must not be negative", cfg.Hotkey.ClearDelay.Std()))
	}

	// Push-to-talk client
	if u, err := url.Parse(cfg.PTT.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("ptt.server_url %q: %w", cfg.PTT.ServerURL, err))
	} else if cfg.PTT.ServerURL != "" && u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("ptt.server_url %q must use ws or wss", cfg.PTT.ServerURL))
	}
	if cfg.PTT.MinRecording < 0 {
		errs = append(errs, fmt.Errorf("ptt.min_recording %s must not be negative", cfg.PTT.MinRecording.Std()))
	}
	if cfg.PTT.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("ptt.response_timeout %s must not be negative", cfg.PTT.ResponseTimeout.Std()))
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
