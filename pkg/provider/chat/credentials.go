package chat

import (
	"errors"
	"strings"

	"github.com/MrWong99/talkback/pkg/types"
)

// minAPIKeyLength is the shortest key hosted backends issue.
const minAPIKeyLength = 30

// ValidateAPIKey rejects keys that are empty or too short to be genuine.
// Hosted backends (openai, deepseek) call it before a provider is built.
func ValidateAPIKey(backend, key string) error {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return &types.ConfigError{Component: backend, Field: "api_key", Err: errors.New("missing")}
	case len(key) < minAPIKeyLength:
		return &types.ConfigError{Component: backend, Field: "api_key", Err: errors.New("too short to be a valid key")}
	}
	return nil
}
