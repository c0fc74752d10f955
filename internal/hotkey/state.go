// Package hotkey turns raw key press and release events into push-to-talk
// gestures.
//
// Holding the primary key for at least the hold threshold starts a recording;
// holding the modifier at the moment the threshold is reached starts a
// translate-to-English recording instead. Releasing the primary key ends the
// recording. Shorter taps are ignored.
//
// The package is split into a pure transition table ([Transition]) that maps
// a [Status] and an [Event] to the next Status plus a list of [Effect]s, and
// a [Machine] that owns one Status, serialises all events through a single
// goroutine and applies the effects (timers and [Listener] callbacks).
package hotkey

import "time"

// State is the user-visible phase of the push-to-talk gesture.
type State int

const (
	// Idle waits for the primary key.
	Idle State = iota
	// Armed means the primary key is down but the hold threshold has not
	// elapsed yet.
	Armed
	// Recording captures audio for plain transcription.
	Recording
	// RecordingAlt captures audio for translation to English.
	RecordingAlt
	// Processing waits for the transcription of a finished recording.
	Processing
	// Translating waits for the translation of a finished recording.
	Translating
	// Warning shows a message and clears itself after the clear delay.
	Warning
	// Error shows a message and clears itself after the clear delay.
	Error
)

var stateNames = [...]string{
	Idle:         "idle",
	Armed:        "armed",
	Recording:    "recording",
	RecordingAlt: "recording_alt",
	Processing:   "processing",
	Translating:  "translating",
	Warning:      "warning",
	Error:        "error",
}

// String returns the lower-case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Busy reports whether a recording or its processing is in progress.
func (s State) Busy() bool {
	switch s {
	case Recording, RecordingAlt, Processing, Translating:
		return true
	}
	return false
}

// Display returns the status line shown to the user for s. msg is only used
// by Warning and Error.
func (s State) Display(msg string) string {
	switch s {
	case Recording:
		return "🎤 recording..."
	case RecordingAlt:
		return "🎤 recording (translate)..."
	case Processing:
		return "🔄 transcribing..."
	case Translating:
		return "🔄 translating..."
	case Warning:
		return "⚠️ " + msg
	case Error:
		return msg
	}
	return ""
}

// Status is everything the transition table needs to know. The zero value is
// an idle machine with no keys held.
type Status struct {
	State State

	// PrimaryHeld and ModifierHeld track the physical keys.
	PrimaryHeld  bool
	ModifierHeld bool

	// PressedAt is when the current gesture started.
	PressedAt time.Time

	// Press numbers gestures. Hold timers carry the number of the press that
	// armed them so a timer left over from an earlier press is ignored.
	Press uint64

	// Triggered is the one-shot guard: set once the hold threshold fired for
	// the current press.
	Triggered bool

	// Clear numbers Warning and Error entries the same way Press numbers
	// presses.
	Clear uint64

	// Message is the text carried by Warning and Error.
	Message string
}
