package ptt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/talkback/internal/session"
)

// echoServer accepts one websocket, records the client's first two frames
// and answers with a transcription event, garbage and an audio frame.
func echoServer(t *testing.T, got chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		for range 2 {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				t.Errorf("server read: %v", err)
				return
			}
			kind := "text"
			if typ == websocket.MessageBinary {
				kind = "binary"
			}
			got <- kind + ":" + string(data)
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"transcription","message":"hello"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte("RIFF"))
		// Wait for the client to hang up.
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWSDialer_RoundTrip(t *testing.T) {
	t.Parallel()
	got := make(chan string, 2)
	srv := echoServer(t, got)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	d := WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: quietLogger()}
	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SendCommand(ctx, session.Command{Type: session.CommandTranslate}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := conn.SendAudio(ctx, []byte("pcm")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if s := <-got; s != `text:{"type":"translate"}` {
		t.Errorf("first frame = %q", s)
	}
	if s := <-got; s != "binary:pcm" {
		t.Errorf("second frame = %q", s)
	}

	f, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Event == nil || f.Event.Type != "transcription" || f.Event.Message != "hello" {
		t.Errorf("first read = %+v", f)
	}
	// The undecodable frame is skipped.
	f, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if f.Event != nil || string(f.Audio) != "RIFF" {
		t.Errorf("second read = %+v", f)
	}
}

func TestWSDialer_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := (WSDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}).Dial(ctx); err == nil {
		t.Fatal("expected dial error")
	}
}
