package pipeline

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Kind says which path a [Turn] takes through the pipeline.
type Kind int

const (
	// KindAudio transcribes Audio, then chats.
	KindAudio Kind = iota
	// KindText chats with Text directly.
	KindText
	// KindImage renders ImagePrompt.
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindText:
		return "text"
	case KindImage:
		return "image"
	}
	return "unknown"
}

var lastTurnID atomic.Uint64

// Turn is one request/response cycle of a session. The input fields are set
// by the constructors and never change; the rest is written by the pipeline.
type Turn struct {
	ID        uint64
	SessionID string
	Kind      Kind

	Audio       []byte
	Translate   bool
	Text        string
	ImagePrompt string

	cancelled atomic.Bool
	done      atomic.Bool

	mu         sync.Mutex
	transcript string
	response   strings.Builder
	sentence   strings.Builder
}

func newTurn(sessionID string, kind Kind) *Turn {
	return &Turn{ID: lastTurnID.Add(1), SessionID: sessionID, Kind: kind}
}

// NewAudioTurn creates a turn for one utterance. With translate set the
// transcript is translated to English.
func NewAudioTurn(sessionID string, audio []byte, translate bool) *Turn {
	t := newTurn(sessionID, KindAudio)
	t.Audio = audio
	t.Translate = translate
	return t
}

// NewTextTurn creates a chat turn from typed text.
func NewTextTurn(sessionID, text string) *Turn {
	t := newTurn(sessionID, KindText)
	t.Text = text
	return t
}

// NewImageTurn creates a turn that renders prompt.
func NewImageTurn(sessionID, prompt string) *Turn {
	t := newTurn(sessionID, KindImage)
	t.ImagePrompt = prompt
	return t
}

// Cancelled reports whether the turn was cancelled. Once true it stays true.
func (t *Turn) Cancelled() bool { return t.cancelled.Load() }

// Done reports whether the turn ran to an end without being cancelled.
func (t *Turn) Done() bool { return t.done.Load() }

// Transcript returns the recognised text of an audio turn.
func (t *Turn) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript
}

// Response returns every chat fragment received so far.
func (t *Turn) Response() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response.String()
}

func (t *Turn) setTranscript(s string) {
	t.mu.Lock()
	t.transcript = s
	t.mu.Unlock()
}

// appendText adds a fragment to the response and the sentence buffer.
func (t *Turn) appendText(s string) {
	t.mu.Lock()
	t.response.WriteString(s)
	t.sentence.WriteString(s)
	t.mu.Unlock()
}

// takeSentence empties the sentence buffer and returns what it held.
func (t *Turn) takeSentence() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sentence.String()
	t.sentence.Reset()
	return s
}

// sentenceTerminators end a sentence in English and CJK punctuation.
const sentenceTerminators = ".!?。！？"

// endsSentence reports whether a chat fragment closes the buffered sentence.
func endsSentence(fragment string) bool {
	return strings.ContainsAny(fragment, sentenceTerminators)
}
