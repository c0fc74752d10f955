// Package mock provides a test double for the image.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/image"
)

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// Image is returned by Generate when Err is nil.
	Image []byte

	// Err, if non-nil, is returned by Generate.
	Err error

	// Block makes Generate wait for ctx to be done.
	Block bool

	// Prompts records every prompt in order.
	Prompts []string
}

// Generate records the prompt and returns Image, Err.
func (p *Provider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	p.mu.Lock()
	p.Prompts = append(p.Prompts, prompt)
	img, err, block := p.Image, p.Err, p.Block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return img, err
}

// Calls returns a copy of the recorded prompts. Thread-safe.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Prompts...)
}

var _ image.Provider = (*Provider)(nil)
