// Package tts defines the Provider interface for Text-to-Speech backends.
//
// The turn pipeline synthesizes one complete sentence at a time and sends the
// result to the client as a single binary frame, so providers return a whole,
// directly playable audio file (WAV unless the backend documents otherwise)
// rather than a PCM stream.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/talkback/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the encoded
	// audio. An empty voice.ID selects the backend's default voice.
	//
	// Synthesize must return promptly once ctx is done.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}
