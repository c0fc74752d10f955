// Package config provides the configuration schema, loader, and provider registry
// for the talkback server and push-to-talk client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
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

// Duration is a time.Duration written as a Go duration string in YAML
// (e.g. "500ms", "30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Or returns d, or def when d is zero.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Hotkey    HotkeyConfig    `yaml:"hotkey"`
	PTT       PTTConfig       `yaml:"ptt"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir is served at / and /static/. Empty disables static files.
	StaticDir string `yaml:"static_dir"`

	// MaxSessions caps concurrent websocket sessions. 0 uses the default.
	MaxSessions int64 `yaml:"max_sessions"`

	// AllowedOrigins lists host patterns of browser pages on other origins
	// that may open /ws. Same-origin pages are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Chat is the streaming chat backend. An empty name means "deepseek".
	Chat ProviderEntry `yaml:"chat"`

	// ChatFallbacks are tried in order when Chat fails to start a stream.
	ChatFallbacks []ProviderEntry `yaml:"chat_fallbacks"`

	STT   ProviderEntry `yaml:"stt"`
	TTS   ProviderEntry `yaml:"tts"`
	Image ProviderEntry `yaml:"image"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	return v, ok
}

// OptionInt returns Options[key] when it is a number.
func (e ProviderEntry) OptionInt(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// PipelineConfig tunes the turn pipeline and the per-session conversation.
type PipelineConfig struct {
	// BackendTimeout bounds each transcription, synthesis and image call, and
	// the wait for each chat fragment. Defaults to 30s.
	BackendTimeout Duration `yaml:"backend_timeout"`

	// Language is the transcription language hint (e.g. "en", "zh").
	Language string `yaml:"language"`

	// SystemPrompt, Temperature, MaxTokens and HistoryLimit configure the
	// chat conversation. Zero values keep the conversation defaults.
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	HistoryLimit int     `yaml:"history_limit"`

	// Voice selects the synthesis voice.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Language overrides the synthesis language.
	Language string `yaml:"language"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// HotkeyConfig binds the push-to-talk gesture.
type HotkeyConfig struct {
	// Primary is the key held to record. Defaults to "alt_r".
	Primary string `yaml:"primary"`

	// Modifier held together with Primary selects translate mode. Defaults
	// to "shift_r"; "none" disables translate mode.
	Modifier string `yaml:"modifier"`

	// HoldThreshold is how long Primary must be held before recording starts.
	HoldThreshold Duration `yaml:"hold_threshold"`

	// ClearDelay is how long warnings and errors stay visible.
	ClearDelay Duration `yaml:"clear_delay"`
}

// PTTConfig configures the push-to-talk client.
type PTTConfig struct {
	// ServerURL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	ServerURL string `yaml:"server_url"`

	// Device is the evdev keyboard device. Empty reads key names from stdin.
	Device string `yaml:"device"`

	// RecordCommand writes WAV audio to stdout until interrupted.
	RecordCommand []string `yaml:"record_command"`

	// PlayCommand reads WAV audio from stdin and plays it.
	PlayCommand []string `yaml:"play_command"`

	// MinRecording rejects shorter recordings with a warning. Defaults to 1s.
	MinRecording Duration `yaml:"min_recording"`

	// ResponseTimeout fails a request the server did not answer in time.
	ResponseTimeout Duration `yaml:"response_timeout"`
}
