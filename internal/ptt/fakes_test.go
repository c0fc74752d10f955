package ptt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/internal/session"
)

var errConnClosed = errors.New("fake conn closed")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory Conn. Tests push server frames with push and
// inspect client writes with sent.
type fakeConn struct {
	frames chan Frame
	closed chan struct{}

	mu       sync.Mutex
	writes   []string
	closes   int
	closeOne sync.Once
	sendErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) push(f Frame) { c.frames <- f }

func (c *fakeConn) pushEvent(typ, msg string) {
	c.push(Frame{Event: &pipeline.Event{Type: typ, Message: msg}})
}

// drop makes the pending and every later Read fail, like a lost connection.
func (c *fakeConn) drop() { c.closeOne.Do(func() { close(c.closed) }) }

func (c *fakeConn) SendCommand(_ context.Context, cmd session.Command) error {
	return c.record("command:" + cmd.Type)
}

func (c *fakeConn) SendAudio(_ context.Context, audio []byte) error {
	return c.record("audio:" + string(audio))
}

func (c *fakeConn) record(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.writes = append(c.writes, s)
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) Read(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return Frame{}, errConnClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.drop()
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// fakeDialer hands out results in order; the last one repeats.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	conn Conn
	err  error
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := min(d.calls, len(d.results)-1)
	d.calls++
	r := d.results[i]
	return r.conn, r.err
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
