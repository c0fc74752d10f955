// Package llm is the streaming completion contract shared by every chat
// backend. The chat layer talks only to [Provider]; [Prompt] and [Relay]
// hold the request flattening and channel plumbing that backends share.
package llm

import (
	"context"

	"github.com/MrWong99/talkback/pkg/types"
)

// FinishError marks a chunk that reports a failure after the stream opened.
// Its Text carries the error message.
const FinishError = "error"

// CompletionRequest is one chat turn: the history so far plus sampling knobs.
type CompletionRequest struct {
	// Messages is the history, oldest first. It must not be empty.
	Messages []types.Message

	// Temperature in [0, 2]; 0 keeps the backend default.
	Temperature float64

	// MaxTokens caps the reply length; 0 keeps the backend default.
	MaxTokens int

	// SystemPrompt is sent ahead of Messages as a system message.
	SystemPrompt string
}

// Chunk is one streamed fragment.
type Chunk struct {
	Text string

	// FinishReason is empty until the last chunk, which carries "stop",
	// "length" or [FinishError].
	FinishReason string
}

// Provider streams completions. Implementations are safe for concurrent use.
type Provider interface {
	// StreamCompletion returns a channel of fragments that the implementation
	// closes when the reply ends or ctx is cancelled. A non-nil error means
	// the stream never started; later failures arrive as a [FinishError]
	// chunk. Callers drain the channel or cancel ctx.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
