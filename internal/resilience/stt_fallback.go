package resilience

import (
	"context"

	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, audio, opts)
	})
}

// Check reports whether any backend is currently accepting calls.
func (f *STTFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
