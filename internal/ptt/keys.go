package ptt

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrWong99/talkback/internal/hotkey"
)

// KeyHandler receives one key transition. It matches [hotkey.Machine.OnCode].
type KeyHandler func(code uint16, down bool)

// KeySource produces key transitions until ctx ends or input runs out.
type KeySource interface {
	Run(ctx context.Context, h KeyHandler) error
}

// Linux input_event layout on 64-bit platforms: struct timeval (two
// 64-bit fields), then type, code and value.
const (
	inputEventSize = 24
	evKey          = 1

	keyUp     = 0
	keyDown   = 1
	keyRepeat = 2
)

// EvdevSource reads key events from a /dev/input/event* device.
type EvdevSource struct {
	Path string
}

// Run implements [KeySource]. The device is closed when ctx ends.
func (s EvdevSource) Run(ctx context.Context, h KeyHandler) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("ptt: open input device: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer func() {
		if stop() {
			_ = f.Close()
		}
	}()

	err = readInputEvents(f, h)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readInputEvents decodes input_event records from r until EOF. Only key
// presses and releases reach h; auto-repeat is dropped.
func readInputEvents(r io.Reader, h KeyHandler) error {
	buf := make([]byte, inputEventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ptt: read input event: %w", err)
		}
		typ := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))
		if typ != evKey {
			continue
		}
		switch value {
		case keyDown:
			h(code, true)
		case keyUp:
			h(code, false)
		case keyRepeat:
		}
	}
}

// LineSource reads lines of the form "down <key>" or "up <key>", e.g. from
// stdin or a pipe fed by a desktop hotkey daemon. Blank lines and lines
// starting with '#' are skipped; anything else unparseable is reported to
// OnError and skipped.
type LineSource struct {
	R       io.Reader
	OnError func(line string, err error)
}

// Run implements [KeySource]. It returns when R is exhausted.
func (s LineSource) Run(ctx context.Context, h KeyHandler) error {
	sc := bufio.NewScanner(s.R)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		code, down, err := parseKeyLine(line)
		if err != nil {
			if s.OnError != nil {
				s.OnError(line, err)
			}
			continue
		}
		h(code, down)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ptt: read key lines: %w", err)
	}
	return nil
}

func parseKeyLine(line string) (code uint16, down bool, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, false, errors.New(`want "down <key>" or "up <key>"`)
	}
	switch strings.ToLower(fields[0]) {
	case "down", "press":
		down = true
	case "up", "release":
	default:
		return 0, false, fmt.Errorf("unknown action %q", fields[0])
	}
	k, err := hotkey.ParseKey(fields[1])
	if err != nil {
		return 0, false, err
	}
	return k.Code(), down, nil
}
