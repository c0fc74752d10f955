package session

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/MrWong99/talkback/pkg/types"
)

// Command types a client may send as a JSON text frame.
const (
	CommandStop      = "stop"
	CommandReset     = "reset"
	CommandTranslate = "translate"
	CommandChat      = "chat"
)

// Command is the envelope of every incoming text frame. Types other than
// stop, reset and translate are treated as chat.
type Command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var errNotObject = errors.New("not a JSON object")

// ParseCommand decodes a text frame. Anything that is not a JSON object with
// string fields yields a *types.MalformedInputError.
func ParseCommand(data []byte) (Command, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Command{}, &types.MalformedInputError{Err: errNotObject}
	}
	var c Command
	if err := json.Unmarshal(trimmed, &c); err != nil {
		return Command{}, &types.MalformedInputError{Err: err}
	}
	return c, nil
}
