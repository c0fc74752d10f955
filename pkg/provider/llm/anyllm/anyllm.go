// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving the chat layer one code path for DeepSeek, Ollama and the other
// hosted or local backends that library speaks to.
//
//	p, err := anyllm.NewDeepSeek("deepseek-chat", anyllmlib.WithAPIKey(key))
//	p, err := anyllm.NewOllama("llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// SupportedProviders lists the backend names accepted by [New].
var SupportedProviders = []string{
	"deepseek", "ollama", "openai", "anthropic", "gemini",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Provider streams completions through an any-llm-go backend.
type Provider struct {
	name    string
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New builds a provider for the named backend. Without an API key option the
// backend reads its usual environment variable, e.g. DEEPSEEK_API_KEY.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	switch {
	case name == "":
		return nil, errors.New("anyllm: backend name is required")
	case model == "":
		return nil, errors.New("anyllm: model is required")
	}
	name = strings.ToLower(name)
	backend, err := open(name, opts)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{name: name, backend: backend, model: model}, nil
}

// NewDeepSeek is New("deepseek", ...).
func NewDeepSeek(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("deepseek", model, opts...)
}

// NewOllama is New("ollama", ...). The default server is localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

func open(name string, opts []anyllmlib.Option) (anyllmlib.Provider, error) {
	switch name {
	case "deepseek":
		return deepseek.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	}
	return nil, fmt.Errorf("unsupported backend; choose one of %s", strings.Join(SupportedProviders, ", "))
}

// StreamCompletion implements [llm.Provider]. Backend errors surface as an
// [llm.FinishError] chunk after the last fragment.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, err)
	}
	chunks, errs := p.backend.CompletionStream(ctx, params)
	fragments := func(yield func(llm.Chunk) bool) {
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			if !yield(llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}) {
				return
			}
		}
	}
	return llm.Relay(ctx, fragments, func() error { return <-errs }), nil
}

func (p *Provider) params(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	prompt, err := llm.Prompt(req)
	if err != nil {
		return anyllmlib.CompletionParams{}, err
	}
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, len(prompt)),
	}
	for i, m := range prompt {
		params.Messages[i] = anyllmlib.Message{Role: string(m.Role), Content: m.Content}
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params, nil
}
