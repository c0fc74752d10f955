package pipeline

import (
	"context"
	"encoding/base64"
)

// Event types sent to the client as JSON text frames.
const (
	EventTranscription = "transcription"
	EventChat          = "chat"
	EventImage         = "image"
	EventError         = "error"
)

// Event is one outgoing JSON message.
type Event struct {
	Type        string `json:"type"`
	Message     string `json:"message,omitempty"`
	Data        string `json:"data,omitempty"`
	Description string `json:"description,omitempty"`
}

// TranscriptionEvent carries recognised speech.
func TranscriptionEvent(text string) Event {
	return Event{Type: EventTranscription, Message: text}
}

// ChatEvent carries one completed sentence.
func ChatEvent(sentence string) Event {
	return Event{Type: EventChat, Message: sentence}
}

// ImageEvent carries a rendered image, base64 encoded.
func ImageEvent(png []byte, description string) Event {
	return Event{
		Type:        EventImage,
		Data:        base64.StdEncoding.EncodeToString(png),
		Description: description,
	}
}

// ErrorEvent reports a failed turn.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Message: err.Error()}
}

// Sink is where a turn's output goes. Implementations must re-check their
// connection inside every send; Connected lets the pipeline stop early.
type Sink interface {
	Connected() bool
	SendEvent(ctx context.Context, ev Event) error
	SendAudio(ctx context.Context, audio []byte) error
}
