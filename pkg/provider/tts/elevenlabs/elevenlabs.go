// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API.
//
// Each Synthesize call opens one stream-input socket, sends the sentence
// followed by the end-of-input marker, collects the base64 PCM chunks until
// the server reports isFinal, and returns them wrapped in a WAV header.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoice sets the voice used when a request does not name one.
func WithVoice(id string) Option {
	return func(p *Provider) {
		p.voice = id
	}
}

// WithBaseURL overrides the websocket base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	voice        string
	baseURL      string
	sampleRate   int
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := sampleRateOf(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

// sampleRateOf extracts the rate from a "pcm_<rate>" output format.
func sampleRateOf(format string) (int, error) {
	rate, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not PCM", format)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
	}
	return n, nil
}

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// streamURL builds the stream-input endpoint for voiceID.
func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(voiceID), q.Encode())
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.voice
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	// A single space opens the stream; an empty string closes input.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return nil, errors.New("elevenlabs: no audio received")
	}
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: p.sampleRate, Channels: 1}), nil
}

var _ tts.Provider = (*Provider)(nil)
