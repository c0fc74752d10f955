package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/talkback/pkg/types"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestSynthesize(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt fake")
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL), WithVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Synthesize(context.Background(), "Hi there.", types.VoiceProfile{SpeedFactor: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(got, wav) {
		t.Errorf("audio = %q, want %q", got, wav)
	}
	if body["input"] != "Hi there." || body["voice"] != "nova" || body["model"] != "tts-1" {
		t.Errorf("request body = %v", body)
	}
	if body["response_format"] != "wav" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	if body["speed"] != 1.25 {
		t.Errorf("speed = %v", body["speed"])
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("sk-test", WithBaseURL("http://127.0.0.1:1"))
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}
