package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkback/pkg/provider/stt/mock"
)

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("whisper server down")}
	secondary := &sttmock.Provider{Text: "hello"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	opts := stt.Options{Translate: true}
	text, err := fb.Transcribe(context.Background(), []byte("audio"), opts)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
	calls := secondary.Calls()
	if len(calls) != 1 || !calls[0].Opts.Translate || string(calls[0].Audio) != "audio" {
		t.Errorf("secondary calls = %+v", calls)
	}
}

func TestSTTFallback_TimeoutTriesNext(t *testing.T) {
	primary := &sttmock.Provider{Block: true}
	secondary := &sttmock.Provider{Text: "late"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	text, err := fb.Transcribe(ctx, nil, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "late" {
		t.Errorf("text = %q, want the fallback's answer", text)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls: primary=%d secondary=%d", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestSTTFallback_CancelledDoesNotFailOver(t *testing.T) {
	primary := &sttmock.Provider{Block: true}
	secondary := &sttmock.Provider{Text: "unused"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fb.Transcribe(ctx, nil, stt.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("cancelled call moved on to the fallback")
	}
}
