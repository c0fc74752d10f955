// Package openai provides an image provider backed by the OpenAI images API.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/talkback/pkg/provider/image"
)

// Provider implements image.Provider using /images/generations.
type Provider struct {
	client oai.Client
	model  oai.ImageModel
	size   oai.ImageGenerateParamsSize
}

type config struct {
	baseURL string
	model   string
	size    string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides the default dall-e-3 model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithSize sets the image size, e.g. "1024x1024".
func WithSize(size string) Option {
	return func(c *config) { c.size = size }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI image Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai image: apiKey must not be empty")
	}
	cfg := &config{
		model: string(oai.ImageModelDallE3),
		size:  string(oai.ImageGenerateParamsSize1024x1024),
	}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  oai.ImageModel(cfg.model),
		size:   oai.ImageGenerateParamsSize(cfg.size),
	}, nil
}

// Generate implements image.Provider and returns PNG bytes.
func (p *Provider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("openai image: prompt must not be empty")
	}
	res, err := p.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          p.model,
		N:              param.NewOpt[int64](1),
		Size:           p.size,
		ResponseFormat: oai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image: generate: %w", err)
	}
	if len(res.Data) == 0 || res.Data[0].B64JSON == "" {
		return nil, errors.New("openai image: response contained no image")
	}
	png, err := base64.StdEncoding.DecodeString(res.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("openai image: decode: %w", err)
	}
	return png, nil
}

var _ image.Provider = (*Provider)(nil)
