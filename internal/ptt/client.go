// Package ptt is the push-to-talk desktop client. It feeds key events from
// a [KeySource] into a hotkey machine, records while the machine says so,
// sends each utterance to the server over a websocket and plays back the
// synthesized replies.
package ptt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/talkback/internal/hotkey"
	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/internal/session"
	"github.com/MrWong99/talkback/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultMinRecording    = time.Second
	DefaultResponseTimeout = 60 * time.Second
)

// playQueueSize bounds reply audio waiting for the player.
const playQueueSize = 32

// Status messages shown through the hotkey machine.
const (
	MsgTooShort      = "recording too short, hold for at least 1s"
	MsgNotConnected  = "not connected to the server"
	MsgNoResponse    = "no response from the server"
	MsgNoSpeech      = "no speech recognised"
	MsgRecordFailed  = "recording failed"
	MsgSendFailed    = "could not send the recording"
	MsgServerFailure = "server error: "
)

// ErrServerUnreachable is returned by Run when reconnection gave up.
var ErrServerUnreachable = errors.New("ptt: server unreachable")

// Feedback is the part of [hotkey.Machine] the client reports outcomes to.
type Feedback interface {
	Warn(msg string)
	Fail(msg string)
	Done()
	Reset()
}

var (
	_ Feedback        = (*hotkey.Machine)(nil)
	_ hotkey.Listener = (*Client)(nil)
)

// Config holds the dependencies of a [Client].
type Config struct {
	Dialer   Dialer
	Recorder Recorder
	// Player may be nil, in which case reply audio is dropped.
	Player Player

	// MinRecording rejects shorter utterances locally. Defaults to 1s.
	MinRecording time.Duration
	// ResponseTimeout bounds the wait for the transcription of a sent
	// utterance. Defaults to 60s.
	ResponseTimeout time.Duration

	// Reconnection tuning, see [ReconnectorConfig].
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Out receives recognised text and chat replies, one per line.
	Out io.Writer

	Clock  func() time.Time
	Logger *slog.Logger
}

// Client connects the hotkey machine, the audio devices and the server.
// It implements [hotkey.Listener].
type Client struct {
	rec             Recorder
	player          Player
	minRecording    time.Duration
	responseTimeout time.Duration
	now             func() time.Time
	log             *slog.Logger
	reconn          *Reconnector
	playq           chan []byte
	reconnected     chan Conn
	gaveUp          chan struct{}
	gaveUpOnce      sync.Once

	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	ctx       context.Context
	fb        Feedback
	startedAt time.Time
	startErr  error
	recording bool
	waiting   uint64
	heard     bool
	seq       uint64
	timer     *time.Timer
}

// NewClient returns a Client. Call SetFeedback before Run.
func NewClient(cfg Config) *Client {
	c := &Client{
		rec:             cfg.Recorder,
		player:          cfg.Player,
		minRecording:    cfg.MinRecording,
		responseTimeout: cfg.ResponseTimeout,
		now:             cfg.Clock,
		log:             cfg.Logger,
		out:             cfg.Out,
		playq:           make(chan []byte, playQueueSize),
		reconnected:     make(chan Conn, 1),
		gaveUp:          make(chan struct{}),
		ctx:             context.Background(),
		fb:              nopFeedback{},
	}
	if c.minRecording <= 0 {
		c.minRecording = DefaultMinRecording
	}
	if c.responseTimeout <= 0 {
		c.responseTimeout = DefaultResponseTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.out == nil {
		c.out = io.Discard
	}
	c.reconn = NewReconnector(ReconnectorConfig{
		Dialer:     cfg.Dialer,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.Backoff,
		MaxBackoff: cfg.MaxBackoff,
		OnReconnect: func(conn Conn) {
			select {
			case c.reconnected <- conn:
			default:
			}
		},
		OnGiveUp: func() { c.gaveUpOnce.Do(func() { close(c.gaveUp) }) },
		Logger:   c.log,
	})
	return c
}

// SetFeedback attaches the machine that drives this client.
func (c *Client) SetFeedback(fb Feedback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fb = fb
}

func (c *Client) feedback() Feedback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fb
}

// Run connects to the server and processes its frames until ctx ends. A
// lost connection resets the machine and is redialled in the background.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	conn, err := c.reconn.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.reconn.Stop() }()
	c.reconn.Monitor(ctx)
	c.log.Info("connected to server")

	go c.playLoop(ctx)

	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("connection to server lost", "err", err)
		c.resolveWait()
		c.abortRecording()
		c.feedback().Reset()
		c.reconn.NotifyDisconnect()

		select {
		case conn = <-c.reconnected:
		case <-c.gaveUp:
			return ErrServerUnreachable
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f Frame) {
	c.mu.Lock()
	c.heard = true
	c.mu.Unlock()

	if f.Event == nil {
		select {
		case c.playq <- f.Audio:
		default:
			c.log.Warn("playback queue full, dropping audio", "bytes", len(f.Audio))
		}
		return
	}

	ev := f.Event
	switch ev.Type {
	case pipeline.EventTranscription:
		waited := c.resolveWait()
		text := strings.TrimSpace(ev.Message)
		if text == "" {
			if waited {
				c.feedback().Warn(MsgTooShort)
			}
			return
		}
		c.println("you: " + text)
		if waited {
			c.feedback().Done()
		}
	case pipeline.EventChat:
		c.println("assistant: " + ev.Message)
	case pipeline.EventImage:
		c.println(fmt.Sprintf("image: %s (%d bytes base64)", ev.Description, len(ev.Data)))
	case pipeline.EventError:
		c.resolveWait()
		c.feedback().Fail(MsgServerFailure + ev.Message)
	default:
		c.log.Debug("ignoring unknown event", "type", ev.Type)
	}
}

func (c *Client) println(line string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := fmt.Fprintln(c.out, line); err != nil {
		c.log.Debug("write output", "err", err)
	}
}

func (c *Client) playLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-c.playq:
			if c.player == nil {
				continue
			}
			if err := c.player.Play(ctx, a); err != nil && ctx.Err() == nil {
				c.log.Warn("playback failed", "err", err)
			}
		}
	}
}

// OnRecordStart implements [hotkey.Listener].
func (c *Client) OnRecordStart() { c.startRecording() }

// OnTranslateStart implements [hotkey.Listener].
func (c *Client) OnTranslateStart() { c.startRecording() }

// OnRecordStop implements [hotkey.Listener].
func (c *Client) OnRecordStop() { go c.finishRecording(false) }

// OnTranslateStop implements [hotkey.Listener].
func (c *Client) OnTranslateStop() { go c.finishRecording(true) }

// OnStateChange implements [hotkey.Listener].
func (c *Client) OnStateChange(state hotkey.State, message string) {
	c.log.Info("status", "state", state.String(), "message", message)
}

// startRecording runs on the machine goroutine. Errors are kept for
// finishRecording because the machine ignores feedback mid-gesture.
func (c *Client) startRecording() {
	c.resolveWait()
	c.mu.Lock()
	ctx := c.ctx
	c.startedAt = c.now()
	c.mu.Unlock()

	err := c.rec.Start(ctx)

	c.mu.Lock()
	c.startErr = err
	c.recording = err == nil
	c.mu.Unlock()
	if err != nil {
		c.log.Error("start recording", "err", err)
	}
}

// abortRecording stops a capture the machine will never finish, e.g. when
// a reset interrupts the gesture, and discards its audio.
func (c *Client) abortRecording() {
	c.mu.Lock()
	active := c.recording
	c.recording = false
	c.startErr = nil
	c.mu.Unlock()
	if !active {
		return
	}
	if _, err := c.rec.Stop(); err != nil {
		c.log.Debug("abort recording", "err", err)
	}
	c.log.Info("recording discarded")
}

func (c *Client) finishRecording(translate bool) {
	c.mu.Lock()
	ctx, fb, startErr, startedAt, active := c.ctx, c.fb, c.startErr, c.startedAt, c.recording
	c.startErr = nil
	c.recording = false
	c.mu.Unlock()

	if startErr != nil {
		fb.Fail(MsgRecordFailed)
		return
	}
	if !active {
		// Aborted by a reset before the key was released.
		return
	}
	data, err := c.rec.Stop()
	if err != nil {
		c.log.Error("stop recording", "err", err)
		fb.Fail(MsgRecordFailed)
		return
	}
	if d := recordingLength(data, c.now().Sub(startedAt)); d < c.minRecording {
		c.log.Info("recording too short", "duration", d, "min", c.minRecording)
		fb.Warn(MsgTooShort)
		return
	}

	conn := c.reconn.Connection()
	if conn == nil {
		fb.Fail(MsgNotConnected)
		return
	}
	seq := c.beginWait(fb)
	if translate {
		err = conn.SendCommand(ctx, session.Command{Type: session.CommandTranslate})
	}
	if err == nil {
		err = conn.SendAudio(ctx, data)
	}
	if err != nil {
		c.log.Warn("send recording", "err", err)
		if c.endWait(seq) {
			fb.Fail(MsgSendFailed)
		}
		return
	}
	c.log.Debug("recording sent", "bytes", len(data), "translate", translate)
}

// recordingLength prefers the length encoded in a WAV payload and falls
// back to the wall-clock time the key was held.
func recordingLength(data []byte, held time.Duration) time.Duration {
	if audio.IsWAV(data) {
		if info, err := audio.ParseWAV(data); err == nil {
			return info.Duration()
		}
	}
	return held
}

// beginWait arms the response timeout for a sent utterance. The server
// stays silent on an utterance without speech, so a timeout with no frame
// at all in between is reported as that rather than as a failure.
func (c *Client) beginWait(fb Feedback) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	seq := c.seq
	c.waiting = seq
	c.heard = false
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.responseTimeout, func() {
		c.mu.Lock()
		heard := c.heard
		c.mu.Unlock()
		if !c.endWait(seq) {
			return
		}
		if heard {
			fb.Fail(MsgNoResponse)
		} else {
			fb.Warn(MsgNoSpeech)
		}
	})
	return seq
}

// endWait clears the wait for seq and reports whether it was still open.
func (c *Client) endWait(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting != seq || seq == 0 {
		return false
	}
	c.waiting = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return true
}

// resolveWait ends whatever wait is open.
func (c *Client) resolveWait() bool {
	c.mu.Lock()
	seq := c.waiting
	c.mu.Unlock()
	return c.endWait(seq)
}

type nopFeedback struct{}

func (nopFeedback) Warn(string) {}
func (nopFeedback) Fail(string) {}
func (nopFeedback) Done()       {}
func (nopFeedback) Reset()      {}
