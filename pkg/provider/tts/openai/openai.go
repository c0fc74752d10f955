// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

const defaultVoice = "alloy"

// Provider implements tts.Provider using the OpenAI /audio/speech endpoint.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	voice  string
}

type config struct {
	baseURL string
	model   string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides the default tts-1 model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice used when a request does not name one.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: string(oai.SpeechModelTTS1), voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(cfg.model),
		voice:  cfg.voice,
	}, nil
}

// Synthesize implements tts.Provider and returns WAV audio.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	name := voice.ID
	if name == "" {
		name = p.voice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(name),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", err)
	}
	return data, nil
}

var _ tts.Provider = (*Provider)(nil)
