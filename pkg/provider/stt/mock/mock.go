// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	text, err := p.Transcribe(ctx, audio, stt.Options{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Audio []byte
	Opts  stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block makes Transcribe wait for ctx to be done and return ctx.Err().
	// Tests use it to simulate a hung backend.
	Block bool

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Audio: audio, Opts: opts})
	text, err, block := p.Text, p.Err, p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

var _ stt.Provider = (*Provider)(nil)
