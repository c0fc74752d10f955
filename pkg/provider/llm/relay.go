package llm

import (
	"context"
	"errors"
	"iter"

	"github.com/MrWong99/talkback/pkg/types"
)

// ErrEmptyRequest is returned when a [CompletionRequest] has no messages.
var ErrEmptyRequest = errors.New("llm: request has no messages")

// relayBuffer is the capacity of channels returned by [Relay].
const relayBuffer = 32

// Prompt flattens req into the message list sent to a backend: the system
// prompt, if any, followed by the history.
func Prompt(req CompletionRequest) ([]types.Message, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyRequest
	}
	msgs := make([]types.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: req.SystemPrompt})
	}
	return append(msgs, req.Messages...), nil
}

// Relay pumps fragments onto a buffered channel that it closes when the
// sequence ends or ctx is cancelled. Chunks with neither text nor a finish
// reason are dropped.
//
// Once fragments is exhausted, streamErr is consulted; a non-nil error is
// delivered as a final chunk with [FinishError]. streamErr is not called when
// ctx is cancelled first.
func Relay(ctx context.Context, fragments iter.Seq[Chunk], streamErr func() error) <-chan Chunk {
	out := make(chan Chunk, relayBuffer)
	go func() {
		defer close(out)
		for c := range fragments {
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if streamErr == nil {
			return
		}
		if err := streamErr(); err != nil {
			select {
			case out <- Chunk{FinishReason: FinishError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
