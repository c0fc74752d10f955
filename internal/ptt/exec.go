package ptt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Recorder captures one utterance between Start and Stop.
type Recorder interface {
	Start(ctx context.Context) error
	// Stop ends the capture and returns the recorded audio.
	Stop() ([]byte, error)
}

// Player plays one chunk of audio to completion.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// stopGrace is how long a recorder process gets to exit after SIGINT.
const stopGrace = 2 * time.Second

// ExecRecorder runs an external capture command (e.g. arecord) that writes
// the recording to stdout and finishes it on SIGINT.
type ExecRecorder struct {
	Command []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	out  *bytes.Buffer
	wait chan error
}

var _ Recorder = (*ExecRecorder)(nil)

// Start launches the command. It fails if a recording is already running.
func (r *ExecRecorder) Start(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("ptt: record command is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return errors.New("ptt: recording already in progress")
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	out := &bytes.Buffer{}
	cmd.Stdout = out
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ptt: start recorder: %w", err)
	}
	wait := make(chan error, 1)
	go func() { wait <- cmd.Wait() }()

	r.cmd, r.out, r.wait = cmd, out, wait
	return nil
}

// Stop interrupts the command and returns everything it wrote. An exit
// caused by the interrupt is not an error.
func (r *ExecRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	cmd, out, wait := r.cmd, r.out, r.wait
	r.cmd, r.out, r.wait = nil, nil, nil
	r.mu.Unlock()
	if cmd == nil {
		return nil, errors.New("ptt: no recording in progress")
	}

	interrupted := cmd.Process.Signal(os.Interrupt) == nil
	var err error
	select {
	case err = <-wait:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		err = <-wait
	}

	var exitErr *exec.ExitError
	if err != nil && !(interrupted && errors.As(err, &exitErr)) {
		return nil, fmt.Errorf("ptt: recorder: %w", err)
	}
	return out.Bytes(), nil
}

// ExecPlayer pipes audio into an external playback command (e.g. aplay).
type ExecPlayer struct {
	Command []string
}

var _ Player = ExecPlayer{}

// Play runs the command once with audio on stdin.
func (p ExecPlayer) Play(ctx context.Context, audio []byte) error {
	if len(p.Command) == 0 {
		return errors.New("ptt: play command is empty")
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ptt: play: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
