package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled signals that a turn was superseded by newer input, a stop
// command or a disconnect. It is control flow and is never shown to users.
var ErrCancelled = errors.New("turn cancelled")

// ConfigError reports a missing or invalid setting. It is fatal only for the
// component named in Component.
type ConfigError struct {
	Component string
	Field     string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid configuration: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("%s: invalid configuration %s: %v", e.Component, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Stage names the external call a [BackendError] originated from.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageChat       Stage = "chat"
	StageSynthesize Stage = "synthesize"
	StageImage      Stage = "image"
)

// BackendError wraps a failed or timed-out call to a transcription, chat,
// synthesis or image backend. The turn that made the call is aborted; the
// session keeps accepting input.
type BackendError struct {
	Stage Stage
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Timeout reports whether the backend call ran out of time.
func (e *BackendError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// MalformedInputError wraps a client command that could not be parsed.
// Such input is dropped without notifying the client.
type MalformedInputError struct {
	Err error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %v", e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }
