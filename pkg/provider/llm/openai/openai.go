// Package openai streams chat completions from the OpenAI API or any
// endpoint that mirrors it (see [WithBaseURL]).
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/types"
)

// Provider is an [llm.Provider] for the chat completions endpoint.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// Option adds a request option to every call the provider makes.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		if url != "" {
			*o = append(*o, option.WithBaseURL(url))
		}
	}
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) {
		if org != "" {
			*o = append(*o, option.WithOrganization(org))
		}
	}
}

// WithTimeout bounds each HTTP round trip, streaming included.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		if d > 0 {
			*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
		}
	}
}

// New returns a provider that uses model for every completion.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// StreamCompletion opens a streaming completion. A rejected request (bad key,
// unknown model) is returned as an error; failures mid-stream arrive as an
// [llm.FinishError] chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	return llm.Relay(ctx, deltas(stream), stream.Err), nil
}

// deltas yields the first choice of every streamed chunk and closes the
// stream when iteration stops.
func deltas(stream *ssestream.Stream[oai.ChatCompletionChunk]) iter.Seq[llm.Chunk] {
	return func(yield func(llm.Chunk) bool) {
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			if !yield(llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}) {
				return
			}
		}
	}
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	prompt, err := llm.Prompt(req)
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(prompt))
	for _, m := range prompt {
		msg, err := toParam(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func toParam(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return oai.UserMessage(m.Content), nil
	case types.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
}
