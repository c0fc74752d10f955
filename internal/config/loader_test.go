package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/talkback/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Providers.Chat.Name != config.DefaultChatProvider {
		t.Errorf("chat provider: got %q, want %q", cfg.Providers.Chat.Name, config.DefaultChatProvider)
	}
	if cfg.Hotkey.Primary != "alt_r" || cfg.Hotkey.Modifier != "shift_r" {
		t.Errorf("hotkey: got %q/%q", cfg.Hotkey.Primary, cfg.Hotkey.Modifier)
	}
	if got := cfg.PTT.MinRecording.Or(time.Second); got != time.Second {
		t.Errorf("min_recording default: got %v", got)
	}
	if !slices.Equal(cfg.PTT.RecordCommand, config.DefaultRecordCommand) || !slices.Equal(cfg.PTT.PlayCommand, config.DefaultPlayCommand) {
		t.Errorf("ptt commands: got %q / %q", cfg.PTT.RecordCommand, cfg.PTT.PlayCommand)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: "server.log_level",
		},
		{
			name:    "negative sessions",
			yaml:    "server:\n  max_sessions: -1\n",
			wantErr: "server.max_sessions",
		},
		{
			name:    "half tls",
			yaml:    "server:\n  tls:\n    cert_file: a.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  chat_fallbacks:\n    - model: x\n",
			wantErr: "chat_fallbacks[0].name",
		},
		{
			name:    "temperature range",
			yaml:    "pipeline:\n  temperature: 3\n",
			wantErr: "pipeline.temperature",
		},
		{
			name:    "speed factor",
			yaml:    "pipeline:\n  voice:\n    speed_factor: 4\n",
			wantErr: "speed_factor",
		},
		{
			name:    "negative hold",
			yaml:    "hotkey:\n  hold_threshold: -1s\n",
			wantErr: "hotkey.hold_threshold",
		},
		{
			name:    "http server url",
			yaml:    "ptt:\n  server_url: http://localhost/ws\n",
			wantErr: "ptt.server_url",
		},
		{
			name:    "bad duration",
			yaml:    "pipeline:\n  backend_timeout: soon\n",
			wantErr: "decode yaml",
		},
		{
			name:    "unknown field",
			yaml:    "server:\n  colour: blue\n",
			wantErr: "colour",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
pipeline:
  max_tokens: -5
ptt:
  min_recording: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "pipeline.max_tokens", "ptt.min_recording"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  chat:
    name: my-private-llm
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file, got %v", err)
	}
}

func TestHotkeyConfig_ModifierKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		modifier string
		want     string
	}{
		{"shift_r", "shift_r"},
		{"none", ""},
		{" NONE ", ""},
	}
	for _, tt := range tests {
		h := config.HotkeyConfig{Modifier: tt.modifier}
		if got := h.ModifierKey(); got != tt.want {
			t.Errorf("ModifierKey(%q) = %q, want %q", tt.modifier, got, tt.want)
		}
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Providers.Chat.Name != "deepseek" || len(cfg.Providers.ChatFallbacks) != 1 {
		t.Errorf("chat = %q with %d fallbacks", cfg.Providers.Chat.Name, len(cfg.Providers.ChatFallbacks))
	}
	if cfg.PTT.ResponseTimeout.Std() != time.Minute {
		t.Errorf("ptt.response_timeout = %s, want 1m", cfg.PTT.ResponseTimeout.Std())
	}
	if cfg.Providers.Image.Name != "" {
		t.Error("image provider is commented out in the example")
	}
	if cfg.Pipeline.HistoryLimit != 4 {
		t.Errorf("pipeline.history_limit = %d, want the 4-message window", cfg.Pipeline.HistoryLimit)
	}
}
