// Package types defines the shared types used across talkback packages.
//
// Providers, the turn pipeline and the session layer exchange these values.
// Each package keeps its own domain types; only data that crosses package
// boundaries lives here to avoid import cycles.
package types

// Role identifies the author of a conversation [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single entry in a chat conversation history.
type Message struct {
	// Role is the author of the message.
	Role Role

	// Content is the text content of the message.
	Content string
}

// VoiceProfile selects a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Language is an optional BCP-47 language hint (e.g., "en", "zh-cn").
	Language string

	// SpeedFactor adjusts speaking rate (0.5 to 2.0, 1.0 = default, 0 = unset).
	SpeedFactor float64
}

// AudioFormat names the container/encoding of a byte slice of audio.
type AudioFormat string

const (
	AudioWAV AudioFormat = "wav"
	AudioMP3 AudioFormat = "mp3"
	AudioPCM AudioFormat = "pcm"
)
