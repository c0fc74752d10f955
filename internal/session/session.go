// Package session owns one client connection: it turns incoming frames into
// pipeline turns and makes sure at most one turn is live at a time.
//
// A new utterance, a chat message, a stop command and a disconnect all start
// by cancelling the current turn and waiting for it to unwind. Only then is
// the next turn started, so output of an old turn never interleaves with the
// output of a new one.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/talkback/internal/intent"
	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/pkg/provider/chat"
)

// ErrClosed is returned by sends after the session was disconnected.
var ErrClosed = errors.New("session: closed")

// Transport is the client connection a session writes to.
type Transport interface {
	pipeline.Sink
	Close() error
}

// Detector decides whether chat text asks for an image.
type Detector interface {
	Detect(text string) intent.Result
}

// Config holds the dependencies of a [Session].
type Config struct {
	// ID identifies the session in logs and metrics.
	ID string

	Pipeline  *pipeline.Pipeline
	Adapter   chat.Adapter
	Transport Transport

	// Intents routes chat text. When nil all text goes to the chat backend.
	Intents Detector

	Logger *slog.Logger
}

// Info is a snapshot of a session for the debug endpoint.
type Info struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Busy      bool      `json:"busy"`
}

// Session is the orchestrator for one connection. All methods are safe for
// concurrent use.
type Session struct {
	id      string
	started time.Time
	pl      *pipeline.Pipeline
	adapter chat.Adapter
	tr      Transport
	intents Detector
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises turn replacement.
	mu        sync.Mutex
	current   *pipeline.Handle
	translate bool

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// New returns a connected session. Turns run under ctx until OnDisconnect.
func New(ctx context.Context, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		id:      cfg.ID,
		started: time.Now(),
		pl:      cfg.Pipeline,
		adapter: cfg.Adapter,
		tr:      cfg.Transport,
		intents: cfg.Intents,
		log:     log.With("session_id", cfg.ID),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.connected.Store(true)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Connected reports whether OnDisconnect has not been called yet.
func (s *Session) Connected() bool { return s.connected.Load() }

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.id, StartedAt: s.started, Busy: s.busyLocked()}
}

// Current returns the handle of the most recent turn, or nil.
func (s *Session) Current() *pipeline.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnBinaryMessage replaces the current turn with a new audio turn. A pending
// translate command applies to this utterance and is then cleared.
func (s *Session) OnBinaryMessage(ctx context.Context, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return
	}
	translate := s.translate
	s.translate = false
	s.log.DebugContext(ctx, "audio received", "bytes", len(data), "translate", translate)
	s.startLocked(pipeline.NewAudioTurn(s.id, data, translate))
}

// OnTextMessage handles one JSON command. Malformed frames are dropped.
func (s *Session) OnTextMessage(ctx context.Context, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		s.log.DebugContext(ctx, "ignoring text frame", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected.Load() {
		return
	}

	switch cmd.Type {
	case CommandStop:
		s.stopLocked()
	case CommandReset:
		s.stopLocked()
		s.adapter.Reset()
		s.log.DebugContext(ctx, "conversation reset")
	case CommandTranslate:
		s.translate = true
	default:
		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			s.log.DebugContext(ctx, "ignoring empty chat message", "type", cmd.Type)
			return
		}
		s.startLocked(s.route(text))
	}
}

func (s *Session) route(text string) *pipeline.Turn {
	if s.intents != nil {
		if r := s.intents.Detect(text); r.Kind == intent.KindImage {
			s.log.Debug("routing request to image generation", "description", r.Text)
			return pipeline.NewImageTurn(s.id, r.Text)
		}
	}
	return pipeline.NewTextTurn(s.id, text)
}

// OnDisconnect cancels and awaits the current turn, then releases the chat
// adapter and the transport. Only the first call has an effect; later calls
// return the first call's error.
func (s *Session) OnDisconnect() error {
	s.closeOnce.Do(func() {
		s.connected.Store(false)

		s.mu.Lock()
		s.cancelLocked()
		s.mu.Unlock()
		s.cancel()

		var errs []error
		if c, ok := s.adapter.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		errs = append(errs, s.tr.Close())
		s.closeErr = errors.Join(errs...)

		if s.onClose != nil {
			s.onClose()
		}
		s.log.Info("session closed", "duration", time.Since(s.started))
	})
	return s.closeErr
}

// startLocked cancels the current turn, waits for it and starts t.
func (s *Session) startLocked(t *pipeline.Turn) {
	s.cancelLocked()
	s.current = s.pl.Run(s.ctx, t, s.adapter, sink{s})
}

func (s *Session) cancelLocked() {
	if s.current == nil {
		return
	}
	s.current.CancelAndWait()
	s.current = nil
}

// stopLocked cancels a live turn and stops the chat stream. It does nothing
// when no turn is running.
func (s *Session) stopLocked() {
	if !s.busyLocked() {
		s.current = nil
		return
	}
	s.cancelLocked()
	s.adapter.Stop()
}

func (s *Session) busyLocked() bool {
	if s.current == nil {
		return false
	}
	select {
	case <-s.current.Done():
		return false
	default:
		return true
	}
}

// sink gates the transport on the session's own connected flag, so nothing
// is written once OnDisconnect has begun.
type sink struct{ s *Session }

func (k sink) Connected() bool {
	return k.s.connected.Load() && k.s.tr.Connected()
}

func (k sink) SendEvent(ctx context.Context, ev pipeline.Event) error {
	if !k.s.connected.Load() {
		return ErrClosed
	}
	return k.s.tr.SendEvent(ctx, ev)
}

func (k sink) SendAudio(ctx context.Context, audio []byte) error {
	if !k.s.connected.Load() {
		return ErrClosed
	}
	return k.s.tr.SendAudio(ctx, audio)
}

var _ pipeline.Sink = sink{}
