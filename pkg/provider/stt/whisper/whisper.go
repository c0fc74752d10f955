// Package whisper provides an STT provider backed by a whisper.cpp server.
//
// It talks to a running whisper-server binary, which exposes a REST API at
// POST /inference. Each utterance is uploaded as a WAV file in a
// multipart/form-data request. whisper.cpp only accepts 16 kHz mono, so WAV
// input in any other format is converted and raw PCM input is wrapped in a
// WAV header first. Translation to English uses whisper's built-in translate task.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, wav, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

const defaultSampleRate = 16000

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the server when the
// caller does not pass one (e.g., "en", "zh"). Empty means auto-detect.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the sample rate assumed for raw PCM input. Defaults to
// 16000. WAV input carries its own format in the header.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads audio to the /inference endpoint and returns the trimmed
// text. Empty audio yields an empty transcript without a network round trip.
func (p *Provider) Transcribe(ctx context.Context, pcmOrWAV []byte, opts stt.Options) (string, error) {
	if len(pcmOrWAV) == 0 {
		return "", nil
	}
	wav, err := p.prepare(pcmOrWAV)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{"response_format": "json"}
	if lang != "" {
		fields["language"] = lang
	}
	if p.model != "" {
		fields["model"] = p.model
	}
	if opts.Translate {
		fields["translate"] = "true"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// prepare returns a 16 kHz mono WAV for the given input.
func (p *Provider) prepare(in []byte) ([]byte, error) {
	if !audio.IsWAV(in) {
		src := audio.Format{SampleRate: p.sampleRate, Channels: 1}
		return audio.EncodeWAV(audio.ConvertPCM(in, src, audio.SpeechFormat), audio.SpeechFormat), nil
	}
	wav, err := audio.NormalizeWAV(in, audio.SpeechFormat)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return wav, nil
}
