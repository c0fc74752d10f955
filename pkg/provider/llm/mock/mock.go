// Package mock is a scripted [llm.Provider] for tests of the chat layer and
// the fallback group.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi"}, {Text: " there."}}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// StreamCall is one recorded StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays StreamChunks on every call. Set its fields before use;
// StreamCalls is only safe to read directly once the calls have finished,
// otherwise use Calls.
type Provider struct {
	mu sync.Mutex

	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail before a channel is opened.
	StreamErr error

	// Gate holds back each chunk until a value is received from it, so a
	// test can keep a reply in flight.
	Gate chan struct{}

	StreamCalls []StreamCall
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and replays the script on an unbuffered
// channel, stopping early if ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, gate, err := p.record(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *Provider) record(ctx context.Context, req llm.CompletionRequest) ([]llm.Chunk, chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		return nil, nil, p.StreamErr
	}
	return slices.Clone(p.StreamChunks), p.Gate, nil
}

// Calls returns a snapshot of the recorded calls.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.StreamCalls)
}

// Reset forgets the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	p.StreamCalls = nil
	p.mu.Unlock()
}
