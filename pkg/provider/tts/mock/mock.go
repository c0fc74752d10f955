// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("RIFF...")}
//	audio, err := p.Synthesize(ctx, "Hello.", types.VoiceProfile{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when no error applies. A nil Audio
	// makes Synthesize return []byte(text) so tests can match frames to
	// sentences.
	Audio []byte

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// FailOn maps sentences to the error Synthesize returns for them. Other
	// sentences succeed.
	FailOn map[string]error

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Audio, Err.
func (p *Provider) Synthesize(_ context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	if err, ok := p.FailOn[text]; ok {
		return nil, err
	}
	if p.Audio != nil {
		return p.Audio, nil
	}
	return []byte(text), nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

var _ tts.Provider = (*Provider)(nil)
