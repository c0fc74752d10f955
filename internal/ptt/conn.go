package ptt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/internal/session"
)

// readLimit is the largest frame accepted from the server. Synthesized
// sentences arrive as one WAV each.
const readLimit = 32 << 20

// Frame is one message from the server. Exactly one field is set.
type Frame struct {
	Event *pipeline.Event
	Audio []byte
}

// Conn is a connection to the voice-chat server.
type Conn interface {
	SendCommand(ctx context.Context, cmd session.Command) error
	SendAudio(ctx context.Context, audio []byte) error
	// Read blocks for the next frame. Undecodable text frames are skipped.
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens connections to the server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the server's /ws endpoint.
type WSDialer struct {
	URL    string
	Logger *slog.Logger
}

// Dial implements [Dialer].
func (d WSDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("ptt: dial %s: %w", d.URL, err)
	}
	ws.SetReadLimit(readLimit)
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &wsConn{ws: ws, log: log}, nil
}

type wsConn struct {
	ws  *websocket.Conn
	log *slog.Logger
	mu  sync.Mutex
}

func (c *wsConn) SendCommand(ctx context.Context, cmd session.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("ptt: marshal %s command: %w", cmd.Type, err)
	}
	return c.write(ctx, websocket.MessageText, data)
}

func (c *wsConn) SendAudio(ctx context.Context, audio []byte) error {
	return c.write(ctx, websocket.MessageBinary, audio)
}

func (c *wsConn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("ptt: write: %w", err)
	}
	return nil
}

func (c *wsConn) Read(ctx context.Context) (Frame, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return Frame{}, err
		}
		if typ == websocket.MessageBinary {
			return Frame{Audio: data}, nil
		}
		var ev pipeline.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Debug("skipping undecodable frame", "err", err)
			continue
		}
		return Frame{Event: &ev}, nil
	}
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client exiting")
}
