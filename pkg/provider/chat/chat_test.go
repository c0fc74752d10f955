package chat_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/provider/chat"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkback/pkg/provider/llm/mock"
	"github.com/MrWong99/talkback/pkg/types"
)

// collect drains ch and returns the concatenated text and the first error.
func collect(t *testing.T, ch <-chan chat.Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	var firstErr error
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return sb.String(), firstErr
			}
			if c.Err != nil && firstErr == nil {
				firstErr = c.Err
			}
			sb.WriteString(c.Text)
		case <-timeout:
			t.Fatal("timed out draining chat stream")
		}
	}
}

func TestConversation_StreamsAndRemembers(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hi"}, {Text: " there."}, {FinishReason: "stop"}}}
	c := chat.NewConversation(p)

	ch, err := c.StreamChat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	text, err := collect(t, ch)
	if err != nil {
		t.Fatalf("unexpected error chunk: %v", err)
	}
	if text != "Hi there." {
		t.Errorf("text = %q, want %q", text, "Hi there.")
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != chat.DefaultSystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != chat.DefaultTemperature || req.MaxTokens != chat.DefaultMaxTokens {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}

	// History is recorded after the stream goroutine finishes.
	deadline := time.Now().Add(time.Second)
	for len(c.History()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hist := c.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Role != types.RoleUser || hist[0].Content != "hello" {
		t.Errorf("history[0] = %+v", hist[0])
	}
	if hist[1].Role != types.RoleAssistant || hist[1].Content != "Hi there." {
		t.Errorf("history[1] = %+v", hist[1])
	}
}

// exchange sends msg and waits until the reply is remembered.
func exchange(t *testing.T, c *chat.Conversation, msg string) {
	t.Helper()
	ch, err := c.StreamChat(context.Background(), msg)
	if err != nil {
		t.Fatalf("StreamChat(%q): %v", msg, err)
	}
	if _, err := collect(t, ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h := c.History()
		if len(h) > 1 && h[len(h)-2].Content == msg {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("exchange %q never remembered", msg)
}

func TestConversation_HistoryWindow(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok."}}}
	c := chat.NewConversation(p, chat.WithHistoryLimit(4))

	for _, msg := range []string{"one", "two", "three"} {
		exchange(t, c, msg)
	}

	hist := c.History()
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4", len(hist))
	}
	if hist[0].Content != "two" || hist[2].Content != "three" {
		t.Errorf("history kept wrong window: %+v", hist)
	}

	last := p.Calls()[2].Req.Messages
	if len(last) != 5 {
		t.Errorf("third request carried %d messages, want 4 history + 1 new", len(last))
	}
}

func TestConversation_OddHistoryLimitKeepsWholeExchanges(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok."}}}
	c := chat.NewConversation(p, chat.WithHistoryLimit(3))

	exchange(t, c, "one")
	exchange(t, c, "two")

	hist := c.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2: %+v", len(hist), hist)
	}
	if hist[0].Role != types.RoleUser || hist[0].Content != "two" {
		t.Errorf("history opens with %+v, want the user message %q", hist[0], "two")
	}
}

func TestConversation_ErrorChunk(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "partial"},
		{FinishReason: llm.FinishError, Text: "upstream exploded"},
		{Text: "never delivered"},
	}}
	var logs bytes.Buffer
	c := chat.NewConversation(p,
		chat.WithName("deepseek"),
		chat.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	ch, err := c.StreamChat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	text, err := collect(t, ch)
	if err == nil {
		t.Fatal("expected error chunk")
	}
	if got := logs.String(); !strings.Contains(got, "chat stream error") || !strings.Contains(got, "backend=deepseek") {
		t.Errorf("injected logger got %q", got)
	}
	if !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("error = %v", err)
	}
	if text != "partial" {
		t.Errorf("text = %q, want %q", text, "partial")
	}
	time.Sleep(20 * time.Millisecond)
	if len(c.History()) != 0 {
		t.Error("failed reply must not be remembered")
	}
}

func TestConversation_StartError(t *testing.T) {
	t.Parallel()
	boom := errors.New("dial failed")
	c := chat.NewConversation(&llmmock.Provider{StreamErr: boom})
	if _, err := c.StreamChat(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestConversation_EmptyMessage(t *testing.T) {
	t.Parallel()
	c := chat.NewConversation(&llmmock.Provider{})
	if _, err := c.StreamChat(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank message")
	}
}

func TestConversation_StopEndsStream(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "first."}, {Text: "second."}},
		Gate:         gate,
	}
	c := chat.NewConversation(p)

	ch, err := c.StreamChat(context.Background(), "hello")
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	gate <- struct{}{}
	if got := <-ch; got.Text != "first." {
		t.Fatalf("first chunk = %+v", got)
	}

	c.Stop()

	select {
	case got, ok := <-ch:
		if ok {
			t.Fatalf("received chunk after Stop: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed after Stop")
	}
	time.Sleep(20 * time.Millisecond)
	if len(c.History()) != 0 {
		t.Error("stopped reply must not be remembered")
	}
}

func TestConversation_StopWhenIdle(t *testing.T) {
	t.Parallel()
	c := chat.NewConversation(&llmmock.Provider{})
	c.Stop()
	c.Reset()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestConversation_Reset(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok."}}}
	c := chat.NewConversation(p)
	ch, _ := c.StreamChat(context.Background(), "hello")
	_, _ = collect(t, ch)
	deadline := time.Now().Add(time.Second)
	for len(c.History()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Reset()
	if n := len(c.History()); n != 0 {
		t.Fatalf("history length after Reset = %d", n)
	}
}

func TestConversation_ContextCancel(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "never."}}, Gate: gate}
	c := chat.NewConversation(p)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.StreamChat(ctx, "hello")
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	cancel()
	if _, err := collect(t, ch); err != nil {
		t.Fatalf("cancellation must not surface an error chunk: %v", err)
	}
}

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty", "", true},
		{"blank", "   ", true},
		{"short", "sk-123", true},
		{"valid", "sk-0123456789abcdef0123456789abcdef", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := chat.ValidateAPIKey("deepseek", tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAPIKey(%q) err = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *types.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("expected *types.ConfigError, got %T", err)
				}
			}
		})
	}
}
