package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/internal/session"
)

// ErrClosed is returned by sends on a closed connection.
var ErrClosed = errors.New("server: connection closed")

// closeGrace bounds how long Close waits for the peer to answer the close
// frame. A peer that never reads is cut off in the background.
const closeGrace = time.Second

var _ session.Transport = (*Conn)(nil)

// Conn adapts a websocket connection to [session.Transport]. Writes are
// serialised; each one is bounded by the write timeout.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps ws. A non-positive writeTimeout disables the per-write bound.
func NewConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{ws: ws, writeTimeout: writeTimeout}
	c.connected.Store(true)
	return c
}

// Connected implements pipeline.Sink.
func (c *Conn) Connected() bool { return c.connected.Load() }

// SendEvent writes ev as a JSON text frame.
func (c *Conn) SendEvent(ctx context.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: marshal %s event: %w", ev.Type, err)
	}
	return c.write(ctx, websocket.MessageText, data)
}

// SendAudio writes audio as one binary frame.
func (c *Conn) SendAudio(ctx context.Context, audio []byte) error {
	return c.write(ctx, websocket.MessageBinary, audio)
}

func (c *Conn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected.Load() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := c.ws.Write(ctx, typ, data); err != nil {
		// A failed write leaves the websocket unusable.
		c.connected.Store(false)
		return fmt.Errorf("server: write: %w", err)
	}
	return nil
}

// Close sends a normal closure and waits up to closeGrace for the peer's
// reply. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		done := make(chan error, 1)
		go func() { done <- c.ws.Close(websocket.StatusNormalClosure, "session closed") }()
		select {
		case err = <-done:
		case <-time.After(closeGrace):
			return
		}
		switch {
		// The peer may have closed first.
		case errors.Is(err, net.ErrClosed):
			err = nil
		// The close frame went out but the peer never answered it.
		case errors.Is(err, context.DeadlineExceeded):
			err = nil
		}
	})
	return err
}
