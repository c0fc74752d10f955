package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/types"
)

func TestToParam(t *testing.T) {
	tests := []struct {
		role types.Role
		set  func(oai.ChatCompletionMessageParamUnion) bool
	}{
		{types.RoleSystem, func(m oai.ChatCompletionMessageParamUnion) bool { return m.OfSystem != nil }},
		{types.RoleUser, func(m oai.ChatCompletionMessageParamUnion) bool { return m.OfUser != nil }},
		{types.RoleAssistant, func(m oai.ChatCompletionMessageParamUnion) bool { return m.OfAssistant != nil }},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			m, err := toParam(types.Message{Role: tt.role, Content: "x"})
			if err != nil {
				t.Fatalf("toParam: %v", err)
			}
			if !tt.set(m) {
				t.Errorf("wrong union member for role %q", tt.role)
			}
		})
	}

	if _, err := toParam(types.Message{Role: "narrator", Content: "x"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestParams(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.params(llm.CompletionRequest{}); !errors.Is(err, llm.ErrEmptyRequest) {
		t.Fatalf("empty request: err = %v, want ErrEmptyRequest", err)
	}

	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "respond in English",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hello"}},
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].OfSystem == nil {
		t.Errorf("messages = %d, want system prompt then user", len(params.Messages))
	}
	if params.Temperature.Valid() {
		t.Error("zero temperature must be left unset")
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 64 {
		t.Errorf("max tokens = %+v, want 64", params.MaxCompletionTokens)
	}
}

// sseServer returns a test server that streams the given text fragments as
// chat completion chunks.
func sseServer(t *testing.T, fragments ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", f)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"gpt-4o-mini\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamCompletion_ForwardsFragments(t *testing.T) {
	srv := sseServer(t, "Hi", " there.")

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		SystemPrompt: "respond in English",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var text strings.Builder
	var finish string
	for c := range ch {
		if c.FinishReason == llm.FinishError {
			t.Fatalf("unexpected error chunk: %s", c.Text)
		}
		text.WriteString(c.Text)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
	}
	if text.String() != "Hi there." {
		t.Errorf("expected %q, got %q", "Hi there.", text.String())
	}
	if finish != "stop" {
		t.Errorf("expected finish reason stop, got %q", finish)
	}
}

func TestStreamCompletion_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hello"}},
	})
	if err == nil {
		t.Fatal("expected error from failing endpoint")
	}
}
