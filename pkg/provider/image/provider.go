// Package image defines the Provider interface for text-to-image backends
// used when a chat request asks for a picture.
package image

import "context"

// Provider is the abstraction over any image generation backend.
type Provider interface {
	// Generate renders prompt and returns the encoded image (PNG).
	Generate(ctx context.Context, prompt string) ([]byte, error)
}
