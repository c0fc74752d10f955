package anyllm

import (
	"context"
	"errors"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/types"
)

// ── params ────────────────────────────────────────────────────────────────────

func TestParams(t *testing.T) {
	temp := 0.7
	tests := []struct {
		name      string
		req       llm.CompletionRequest
		wantRoles []string
		wantTemp  *float64
		wantMax   int
	}{
		{
			name: "system prompt first",
			req: llm.CompletionRequest{
				SystemPrompt: "respond in English",
				Messages: []types.Message{
					{Role: types.RoleUser, Content: "hello"},
					{Role: types.RoleAssistant, Content: "Hi."},
					{Role: types.RoleUser, Content: "and now?"},
				},
				Temperature: temp,
				MaxTokens:   2000,
			},
			wantRoles: []string{anyllmlib.RoleSystem, "user", "assistant", "user"},
			wantTemp:  &temp,
			wantMax:   2000,
		},
		{
			name:      "zero values left unset",
			req:       llm.CompletionRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}}},
			wantRoles: []string{"user"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Provider{name: "deepseek", model: "deepseek-chat"}
			params, err := p.params(tt.req)
			if err != nil {
				t.Fatalf("params: %v", err)
			}
			if params.Model != "deepseek-chat" {
				t.Errorf("model = %q", params.Model)
			}
			var roles []string
			for _, m := range params.Messages {
				roles = append(roles, m.Role)
			}
			if strings.Join(roles, ",") != strings.Join(tt.wantRoles, ",") {
				t.Errorf("roles = %v, want %v", roles, tt.wantRoles)
			}
			if (params.Temperature == nil) != (tt.wantTemp == nil) ||
				(tt.wantTemp != nil && *params.Temperature != *tt.wantTemp) {
				t.Errorf("temperature = %v, want %v", params.Temperature, tt.wantTemp)
			}
			switch {
			case tt.wantMax == 0 && params.MaxTokens != nil:
				t.Errorf("max tokens = %d, want unset", *params.MaxTokens)
			case tt.wantMax != 0 && (params.MaxTokens == nil || *params.MaxTokens != tt.wantMax):
				t.Errorf("max tokens = %v, want %d", params.MaxTokens, tt.wantMax)
			}
		})
	}
}

func TestParams_EmptyRequest(t *testing.T) {
	p := &Provider{name: "ollama", model: "llama3.2"}
	if _, err := p.params(llm.CompletionRequest{SystemPrompt: "only a prompt"}); !errors.Is(err, llm.ErrEmptyRequest) {
		t.Fatalf("err = %v, want ErrEmptyRequest", err)
	}
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "some-model"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("ollama", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "fakecloud") {
		t.Errorf("expected error to name the provider, got %v", err)
	}
}

func TestNew_DeepSeek_WithAPIKey(t *testing.T) {
	p, err := NewDeepSeek("deepseek-chat", anyllmlib.WithAPIKey("sk-test-0123456789abcdef0123456789"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := NewOllama("llama3.2-vision")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestStreamCompletion_RejectsEmptyRequest(t *testing.T) {
	p, err := NewOllama("llama3.2-vision")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for request without messages")
	}
}
