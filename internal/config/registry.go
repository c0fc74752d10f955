package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/image"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one provider kind's name → constructor table.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   factories[llm.Provider]
	stt   factories[stt.Provider]
	tts   factories[tts.Provider]
	image factories[image.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   newFactories[llm.Provider]("chat"),
		stt:   newFactories[stt.Provider]("stt"),
		tts:   newFactories[tts.Provider]("tts"),
		image: newFactories[image.Provider]("image"),
	}
}

// RegisterLLM registers a chat backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterImage registers an image provider factory under name.
func (r *Registry) RegisterImage(name string, factory func(ProviderEntry) (image.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image.m[name] = factory
}

// CreateLLM instantiates a chat backend using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateImage instantiates an image provider using the factory registered under entry.Name.
func (r *Registry) CreateImage(entry ProviderEntry) (image.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.image.create(entry)
}

// LLMNames returns the registered chat backend names, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.names()
}
