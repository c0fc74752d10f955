// Package coqui provides a TTS provider backed by a Coqui TTS server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body and requires a speaker.
//
// Both servers answer with a WAV file, which is validated and returned as is
// unless an output sample rate was configured.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	wav, err := p.Synthesize(ctx, "Hello there.", types.VoiceProfile{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "zh-cn"). Defaults to "en". A voice profile's Language overrides it.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate resamples mono output to the given rate. Zero keeps
// the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	lang := voice.Language
	if lang == "" {
		lang = p.language
	}

	var req *http.Request
	var err error
	switch p.apiMode {
	case APIModeXTTS:
		if voice.ID == "" {
			return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
		}
		req, err = p.xttsRequest(ctx, text, voice.ID, lang)
	default:
		req, err = p.standardRequest(ctx, text, voice.ID, lang)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return p.postProcess(wav)
}

// xttsRequest builds a POST /tts_to_audio/ request.
func (p *Provider) xttsRequest(ctx context.Context, text, speaker, lang string) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: speaker, Language: lang})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds a GET /api/tts request.
func (p *Provider) standardRequest(ctx context.Context, text, speaker, lang string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if speaker != "" {
		params.Set("speaker_id", speaker)
	}
	if lang != "" {
		params.Set("language_id", lang)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// postProcess validates the WAV and applies the configured output rate.
func (p *Provider) postProcess(wav []byte) ([]byte, error) {
	info, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if p.outputRate <= 0 || info.SampleRate == p.outputRate || info.Channels != 1 {
		return wav, nil
	}
	pcm := audio.ResampleMono16(wav[info.DataOffset:info.DataOffset+info.DataSize], info.SampleRate, p.outputRate)
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: p.outputRate, Channels: 1}), nil
}
