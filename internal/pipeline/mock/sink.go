// Package mock provides a recording test double for pipeline.Sink.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/talkback/internal/pipeline"
)

// ErrDisconnected is returned by sends on a disconnected Sink.
var ErrDisconnected = errors.New("mock sink: disconnected")

// Frame is one recorded write. Exactly one of Event and Audio is set.
type Frame struct {
	Event *pipeline.Event
	Audio []byte
}

// String renders the frame as "type:message" or "audio:<bytes as text>",
// which keeps expected sequences in tests short.
func (f Frame) String() string {
	if f.Event == nil {
		return "audio:" + string(f.Audio)
	}
	switch f.Event.Type {
	case pipeline.EventImage:
		return "image:" + f.Event.Description
	default:
		return f.Event.Type + ":" + f.Event.Message
	}
}

// Sink records every frame. The zero value is disconnected; use NewSink.
type Sink struct {
	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	frames    []Frame

	// SendErr, if non-nil, is returned by every send after recording nothing.
	SendErr error
}

// NewSink returns a connected Sink.
func NewSink() *Sink {
	s := &Sink{connected: true}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Connected implements pipeline.Sink.
func (s *Sink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect makes every later send fail.
func (s *Sink) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// SendEvent implements pipeline.Sink.
func (s *Sink) SendEvent(_ context.Context, ev pipeline.Event) error {
	return s.record(Frame{Event: &ev})
}

// SendAudio implements pipeline.Sink.
func (s *Sink) SendAudio(_ context.Context, audio []byte) error {
	return s.record(Frame{Audio: append([]byte(nil), audio...)})
}

func (s *Sink) record(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrDisconnected
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.frames = append(s.frames, f)
	s.cond.Broadcast()
	return nil
}

// Frames returns a copy of the recorded frames.
func (s *Sink) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Strings returns Frame.String for every recorded frame.
func (s *Sink) Strings() []string {
	frames := s.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.String()
	}
	return out
}

// Events returns only the JSON events.
func (s *Sink) Events() []pipeline.Event {
	var out []pipeline.Event
	for _, f := range s.Frames() {
		if f.Event != nil {
			out = append(out, *f.Event)
		}
	}
	return out
}

// WaitFrames blocks until at least n frames were recorded or timeout
// elapses, and reports whether the count was reached.
func (s *Sink) WaitFrames(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	stop := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.frames) < n {
		if time.Now().After(deadline) {
			return false
		}
		s.cond.Wait()
	}
	return true
}

var _ pipeline.Sink = (*Sink)(nil)
