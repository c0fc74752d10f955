// Package chat defines the Adapter interface the turn pipeline streams
// assistant replies through, and Conversation, the adapter shared by every
// chat backend.
//
// A backend is any [llm.Provider]; Conversation adds what a voice session
// needs on top of a raw completion stream: a system prompt, a bounded
// conversation history, a stop switch that ends the current reply at the
// next chunk boundary, and a reset that forgets the history. The pipeline
// only ever sees [Adapter] and never branches on which backend is in use.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/types"
)

// Defaults applied by [NewConversation] when the matching option is absent.
const (
	DefaultSystemPrompt = "You are a helpful voice assistant. Keep answers short and respond in English."
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 2000
	DefaultHistoryLimit = 4
)

// Chunk is one element of a streamed reply. Exactly one of Text or Err is
// meaningful; a chunk with Err set is always the last one on its channel.
type Chunk struct {
	Text string
	Err  error
}

// Adapter is the capability set every chat backend exposes to the pipeline.
//
// StreamChat returns a lazy, single-use sequence of reply fragments. The
// channel is closed when the reply ends, when [Adapter.Stop] is called, or
// when ctx is cancelled. Stop ends the current stream at the next fragment
// boundary; Reset clears any conversation history held for the session.
type Adapter interface {
	StreamChat(ctx context.Context, text string) (<-chan Chunk, error)
	Stop()
	Reset()
}

// stream tracks one in-flight reply.
type stream struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// Conversation implements [Adapter] on top of an [llm.Provider]. It is safe
// for concurrent use, although a session only runs one stream at a time.
type Conversation struct {
	provider     llm.Provider
	name         string
	systemPrompt string
	temperature  float64
	maxTokens    int
	historyLimit int
	log          *slog.Logger

	mu      sync.Mutex
	history []types.Message
	current *stream
}

// Option configures a [Conversation].
type Option func(*Conversation)

// WithName labels the conversation's backend in log output.
func WithName(name string) Option {
	return func(c *Conversation) { c.name = name }
}

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) Option {
	return func(c *Conversation) {
		if prompt != "" {
			c.systemPrompt = prompt
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Conversation) {
		if t > 0 {
			c.temperature = t
		}
	}
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int) Option {
	return func(c *Conversation) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithLogger sets the logger for stream failures. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHistoryLimit sets how many past messages (user and assistant combined)
// are replayed to the backend with each request. History is kept in whole
// exchanges, so an odd limit effectively rounds down.
func WithHistoryLimit(n int) Option {
	return func(c *Conversation) {
		if n >= 0 {
			c.historyLimit = n
		}
	}
}

// NewConversation returns a Conversation that streams replies from p.
func NewConversation(p llm.Provider, opts ...Option) *Conversation {
	c := &Conversation{
		provider:     p,
		name:         "chat",
		systemPrompt: DefaultSystemPrompt,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		historyLimit: DefaultHistoryLimit,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StreamChat implements [Adapter]. A previous stream that is still running is
// stopped first.
func (c *Conversation) StreamChat(ctx context.Context, text string) (<-chan Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("chat: empty message")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{cancel: cancel}

	c.mu.Lock()
	if c.current != nil {
		c.current.stopped.Store(true)
		c.current.cancel()
	}
	c.current = st
	msgs := make([]types.Message, 0, len(c.history)+1)
	msgs = append(msgs, c.history...)
	c.mu.Unlock()

	user := types.Message{Role: types.RoleUser, Content: text}
	msgs = append(msgs, user)

	in, err := c.provider.StreamCompletion(streamCtx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: c.systemPrompt,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		c.release(st)
		return nil, fmt.Errorf("chat: %s: start stream: %w", c.name, err)
	}

	out := make(chan Chunk)
	go c.forward(streamCtx, st, user, in, out)
	return out, nil
}

// forward relays provider chunks to out until the reply ends, the stream is
// stopped, or ctx is cancelled. A reply that ran to completion is added to
// the history.
func (c *Conversation) forward(ctx context.Context, st *stream, user types.Message, in <-chan llm.Chunk, out chan<- Chunk) {
	defer close(out)
	defer c.release(st)

	var reply strings.Builder
	for chunk := range in {
		if st.stopped.Load() || ctx.Err() != nil {
			return
		}
		if chunk.FinishReason == llm.FinishError {
			c.log.Warn("chat stream error", "backend", c.name, "err", chunk.Text)
			select {
			case out <- Chunk{Err: fmt.Errorf("chat: %s: %s", c.name, chunk.Text)}:
			case <-ctx.Done():
			}
			return
		}
		if chunk.Text == "" {
			continue
		}
		reply.WriteString(chunk.Text)
		select {
		case out <- Chunk{Text: chunk.Text}:
		case <-ctx.Done():
			return
		}
	}

	if st.stopped.Load() || ctx.Err() != nil || reply.Len() == 0 {
		return
	}
	c.remember(user, types.Message{Role: types.RoleAssistant, Content: reply.String()})
}

// remember appends an exchange and trims the history to the configured
// limit. Whole exchanges are dropped so the history always opens with a
// user message.
func (c *Conversation) remember(user, reply types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, user, reply)
	if over := len(c.history) - c.historyLimit; over > 0 {
		over += over % 2
		c.history = append([]types.Message(nil), c.history[over:]...)
	}
}

// release cancels st and clears it if it is still the current stream.
func (c *Conversation) release(st *stream) {
	st.cancel()
	c.mu.Lock()
	if c.current == st {
		c.current = nil
	}
	c.mu.Unlock()
}

// Stop implements [Adapter]. It is a no-op when no reply is streaming.
func (c *Conversation) Stop() {
	c.mu.Lock()
	st := c.current
	c.mu.Unlock()
	if st == nil {
		return
	}
	st.stopped.Store(true)
	st.cancel()
}

// Reset implements [Adapter].
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// History returns a copy of the remembered messages.
func (c *Conversation) History() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Close stops any running stream. The conversation must not be used
// afterwards.
func (c *Conversation) Close() error {
	c.Stop()
	return nil
}

var _ Adapter = (*Conversation)(nil)
