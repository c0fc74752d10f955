package resilience

import (
	"context"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across chat backends.
// Only opening the stream is covered; an error chunk mid-stream belongs to
// the backend that produced it.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Names returns the backends in failover order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// Check reports whether any backend is currently accepting calls.
func (f *LLMFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
