package ptt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never appeared", path)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExecRecorder_StartStop(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ready := filepath.Join(t.TempDir(), "ready")
	r := &ExecRecorder{Command: []string{"sh", "-c", `printf RIFFDATA; : > "$0"; exec sleep 5`, ready}}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
	waitForFile(t, ready)

	got, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(got) != "RIFFDATA" {
		t.Errorf("recorded %q", got)
	}
	if _, err := r.Stop(); err == nil {
		t.Error("Stop without a recording succeeded")
	}
}

func TestExecRecorder_CommandExitsOnItsOwn(t *testing.T) {
	t.Parallel()
	requireShell(t)
	r := &ExecRecorder{Command: []string{"sh", "-c", "printf short"}}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	got, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(got) != "short" {
		t.Errorf("recorded %q", got)
	}
}

func TestExecRecorder_Errors(t *testing.T) {
	t.Parallel()
	if err := (&ExecRecorder{}).Start(context.Background()); err == nil {
		t.Error("empty command started")
	}
	r := &ExecRecorder{Command: []string{filepath.Join(t.TempDir(), "no-such-binary")}}
	if err := r.Start(context.Background()); err == nil {
		t.Error("missing binary started")
	}
}

func TestExecPlayer(t *testing.T) {
	t.Parallel()
	requireShell(t)
	out := filepath.Join(t.TempDir(), "played.wav")
	p := ExecPlayer{Command: []string{"sh", "-c", `cat > "$0"`, out}}

	if err := p.Play(context.Background(), []byte("RIFF-sentence")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "RIFF-sentence" {
		t.Errorf("played %q", got)
	}
}

func TestExecPlayer_Failure(t *testing.T) {
	t.Parallel()
	requireShell(t)
	p := ExecPlayer{Command: []string{"sh", "-c", "cat >/dev/null; echo no device >&2; exit 3"}}
	err := p.Play(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "no device") {
		t.Errorf("error = %v, want stderr in message", err)
	}
	if err := (ExecPlayer{}).Play(context.Background(), nil); err == nil {
		t.Error("empty command played")
	}
}
