package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/internal/session"
	"github.com/MrWong99/talkback/pkg/provider/chat"
	"github.com/MrWong99/talkback/pkg/provider/image"
	imageopenai "github.com/MrWong99/talkback/pkg/provider/image/openai"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/talkback/pkg/provider/llm/openai"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	sttopenai "github.com/MrWong99/talkback/pkg/provider/stt/openai"
	"github.com/MrWong99/talkback/pkg/provider/stt/whisper"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/provider/tts/coqui"
	"github.com/MrWong99/talkback/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/talkback/pkg/provider/tts/openai"
)

// defaultModels is used when a chat entry leaves model empty.
var defaultModels = map[string]string{
	"openai":   "gpt-4o-mini",
	"deepseek": "deepseek-chat",
	"ollama":   "llama3.2",
}

// keyEnv names the environment variable read when a hosted chat backend has
// no api_key in the config.
var keyEnv = map[string]string{
	"openai":   "OPENAI_API_KEY",
	"deepseek": "DEEPSEEK_API_KEY",
}

// Providers holds the pipeline backends built from the config. STT is
// required; without TTS replies are text only, and Image may be nil.
type Providers struct {
	STT   stt.Provider
	TTS   tts.Provider
	Image image.Provider
}

// RegisterBuiltinProviders wires every provider implementation shipped with
// talkback into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Chat ──────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		key := apiKey(entry)
		if err := chat.ValidateAPIKey("openai", key); err != nil {
			return nil, err
		}
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org, ok := entry.OptionString("organization"); ok {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(key, model(entry), opts...)
	})

	reg.RegisterLLM("deepseek", func(entry config.ProviderEntry) (llm.Provider, error) {
		key := apiKey(entry)
		if err := chat.ValidateAPIKey("deepseek", key); err != nil {
			return nil, err
		}
		opts := []anyllmlib.Option{anyllmlib.WithAPIKey(key)}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewDeepSeek(model(entry), opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(model(entry), opts...)
	})

	for _, name := range []string{"anthropic", "gemini", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang, ok := entry.OptionString("language"); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rate, ok := entry.OptionInt("sample_rate"); ok {
			opts = append(opts, whisper.WithSampleRate(rate))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(apiKey(entry), opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang, ok := entry.OptionString("language"); ok {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode, ok := entry.OptionString("api_mode"); ok {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate, ok := entry.OptionInt("output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if voice, ok := entry.OptionString("voice"); ok {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		return ttsopenai.New(apiKey(entry), opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f, ok := entry.OptionString("output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if voice, ok := entry.OptionString("voice"); ok {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Image ─────────────────────────────────────────────────────────────────
	reg.RegisterImage("openai", func(entry config.ProviderEntry) (image.Provider, error) {
		var opts []imageopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, imageopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, imageopenai.WithModel(entry.Model))
		}
		if size, ok := entry.OptionString("size"); ok {
			opts = append(opts, imageopenai.WithSize(size))
		}
		return imageopenai.New(apiKey(entry), opts...)
	})

	slog.Debug("registered providers", "chat", reg.LLMNames())
}

// BuildProviders instantiates the transcription, synthesis and image
// backends named in cfg. An unnamed TTS backend is skipped. STT and TTS are
// wrapped in a circuit breaker so a
// dead backend fails fast instead of burning the backend timeout on every
// turn.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	s, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = resilience.NewSTTFallback(s, cfg.Providers.STT.Name, resilience.FallbackConfig{})
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if name := cfg.Providers.TTS.Name; name != "" {
		t, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", name, err)
		}
		ps.TTS = resilience.NewTTSFallback(t, name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.Image.Name; name != "" {
		p, err := reg.CreateImage(cfg.Providers.Image)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("image provider not available, image requests will fail", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("app: create image provider %q: %w", name, err)
		} else {
			ps.Image = p
			slog.Info("provider created", "kind", "image", "name", name)
		}
	}
	return ps, nil
}

// NewChatFactory builds the chat backend named in cfg, plus its fallbacks,
// and returns a factory producing one conversation per session. When the
// configured backend cannot be created the factory falls back to deepseek.
func NewChatFactory(cfg *config.Config, reg *config.Registry, log *slog.Logger) (session.AdapterFactory, error) {
	if log == nil {
		log = slog.Default()
	}
	entry := cfg.Providers.Chat
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		if strings.EqualFold(entry.Name, config.DefaultChatProvider) {
			return nil, fmt.Errorf("app: create chat provider %q: %w", entry.Name, err)
		}
		log.Warn("chat provider unavailable, falling back", "name", entry.Name, "fallback", config.DefaultChatProvider, "err", err)
		entry = defaultChatEntry(cfg)
		if primary, err = reg.CreateLLM(entry); err != nil {
			return nil, fmt.Errorf("app: create fallback chat provider %q: %w", entry.Name, err)
		}
	}

	group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range cfg.Providers.ChatFallbacks {
		if fb.Name == entry.Name {
			continue
		}
		p, err := reg.CreateLLM(fb)
		if err != nil {
			log.Warn("skipping chat fallback", "name", fb.Name, "err", err)
			continue
		}
		group.AddFallback(fb.Name, p)
	}
	log.Info("provider created", "kind", "chat", "name", entry.Name)

	opts := append(conversationOptions(entry.Name, cfg.Pipeline), chat.WithLogger(log))
	return func() (chat.Adapter, error) {
		return chat.NewConversation(group, opts...), nil
	}, nil
}

// defaultChatEntry returns the deepseek entry from chat_fallbacks when one
// is configured, so its credentials are used.
func defaultChatEntry(cfg *config.Config) config.ProviderEntry {
	for _, fb := range cfg.Providers.ChatFallbacks {
		if strings.EqualFold(fb.Name, config.DefaultChatProvider) {
			return fb
		}
	}
	return config.ProviderEntry{Name: config.DefaultChatProvider}
}

func conversationOptions(name string, pc config.PipelineConfig) []chat.Option {
	opts := []chat.Option{chat.WithName(name)}
	if pc.SystemPrompt != "" {
		opts = append(opts, chat.WithSystemPrompt(pc.SystemPrompt))
	}
	if pc.Temperature != 0 {
		opts = append(opts, chat.WithTemperature(pc.Temperature))
	}
	if pc.MaxTokens != 0 {
		opts = append(opts, chat.WithMaxTokens(pc.MaxTokens))
	}
	if pc.HistoryLimit != 0 {
		opts = append(opts, chat.WithHistoryLimit(pc.HistoryLimit))
	}
	return opts
}

func apiKey(entry config.ProviderEntry) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	if env, ok := keyEnv[strings.ToLower(entry.Name)]; ok {
		return os.Getenv(env)
	}
	return ""
}

func model(entry config.ProviderEntry) string {
	if entry.Model != "" {
		return entry.Model
	}
	return defaultModels[strings.ToLower(entry.Name)]
}
