// Package openai provides an STT provider backed by the OpenAI audio API.
//
// Plain transcription uses the /audio/transcriptions endpoint; translate mode
// uses /audio/translations, which always produces English text.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// Provider implements stt.Provider using the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides the default whisper-1 model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	cfg := &config{model: string(oai.AudioModelWhisper1)}
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
	return &Provider{client: oai.NewClient(reqOpts...), model: oai.AudioModel(cfg.model)}, nil
}

// Transcribe implements stt.Provider. The audio must be a WAV file; raw PCM
// is not accepted by the hosted API.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	file := oai.File(bytes.NewReader(audio), "audio.wav", "audio/wav")

	if opts.Translate {
		res, err := p.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
			File:  file,
			Model: p.model,
		})
		if err != nil {
			return "", fmt.Errorf("openai stt: translate: %w", err)
		}
		return strings.TrimSpace(res.Text), nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:  file,
		Model: p.model,
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

var _ stt.Provider = (*Provider)(nil)
