// Package stt defines the Provider interface for batch Speech-to-Text
// backends.
//
// A session hands the provider one complete utterance at a time (the audio
// captured between hotkey press and release) and receives the recognised
// text. Providers may optionally translate the speech into English instead
// of transcribing it in the spoken language.
//
// Implementations must be safe for concurrent use; several sessions share
// one provider.
package stt

import "context"

// Options tunes a single Transcribe call.
type Options struct {
	// Language is the BCP-47 language hint (e.g. "en", "zh"). Empty lets the
	// backend auto-detect.
	Language string

	// Translate asks the backend to produce English text regardless of the
	// spoken language.
	Translate bool
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts audio into text. audio is either a complete WAV file
	// or raw 16-bit little-endian mono PCM.
	//
	// An empty string with a nil error means the utterance contained no
	// recognisable speech. Transcribe must return promptly once ctx is done.
	Transcribe(ctx context.Context, audio []byte, opts Options) (string, error)
}
