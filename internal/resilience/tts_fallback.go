package resilience

import (
	"context"

	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/types"
)

// TTSFallback implements [tts.Provider] with failover across synthesis
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// Check reports whether any backend is currently accepting calls.
func (f *TTSFallback) Check(ctx context.Context) error { return f.group.Check(ctx) }
