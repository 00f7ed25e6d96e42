package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// chatServer answers every chat completion with body and records the
// decoded request and the Authorization header.
type chatServer struct {
	body string
	auth string
	req  struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
}

func (c *chatServer) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		c.auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&c.req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(c.body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

const reply = `{
	"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
	"choices": [{"index": 0, "finish_reason": "stop",
		"message": {"role": "assistant", "content": "Hello there."}}],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		key     string
		model   string
		opts    []Option
		wantErr string
	}{
		{name: "no model", key: "sk", wantErr: "model is required"},
		{name: "no key for openai", model: "gpt-4o", wantErr: "api key is required"},
		{name: "no key for local server", model: "qwen2.5", opts: []Option{WithBaseURL("http://127.0.0.1:1234/v1")}},
		{name: "key and model", key: "sk", model: "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.key, tt.model, tt.opts...)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("New: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model  string
		opts   []Option
		window int
		output int
	}{
		{model: "gpt-4o-mini", window: 128_000, output: 16_384},
		{model: "GPT-4-turbo", window: 128_000, output: 4_096},
		{model: "gpt-4", window: 8_192, output: 4_096},
		{model: "gpt-4.1-nano", window: 1_047_576, output: 32_768},
		{model: "o1-mini", window: 128_000, output: 65_536},
		{model: "o3", window: 200_000, output: 100_000},
		{model: "llama3.2", window: 8_192, output: 2_048},
		{model: "llama3.2", opts: []Option{WithContextWindow(32_000)}, window: 32_000, output: 2_048},
	}
	for _, tt := range tests {
		p, err := New("sk", tt.model, tt.opts...)
		if err != nil {
			t.Fatal(err)
		}
		caps := p.Capabilities()
		if caps.ContextWindow != tt.window || caps.MaxOutputTokens != tt.output {
			t.Errorf("%s: got %+v, want window=%d output=%d", tt.model, caps, tt.window, tt.output)
		}
	}
}

func TestComplete_SendsHistoryAndSystemPrompt(t *testing.T) {
	t.Parallel()
	srv := &chatServer{body: reply}
	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.start(t)), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Hi"},
			{Role: llm.RoleAssistant, Content: "Hello."},
			{Role: llm.RoleUser, Content: "How are you?"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello there." || resp.FinishReason != "stop" || resp.Usage.TotalTokens != 15 {
		t.Errorf("response = %+v", resp)
	}
	if srv.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", srv.auth)
	}
	var roles []string
	for _, m := range srv.req.Messages {
		roles = append(roles, m.Role)
	}
	if got := strings.Join(roles, ","); got != "system,user,assistant,user" {
		t.Errorf("roles = %s", got)
	}
	if srv.req.Model != "gpt-4o" {
		t.Errorf("model = %q", srv.req.Model)
	}
}

func TestComplete_RefusalBecomesContent(t *testing.T) {
	t.Parallel()
	srv := &chatServer{body: `{"id": "x", "object": "chat.completion", "created": 1, "model": "gpt-4o",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "", "refusal": "I can't help with that."}}]}`}
	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.start(t)), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "..."}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "I can't help with that." {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer failing.Close()
	empty := &chatServer{body: `{"id": "x", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`}
	emptyURL := empty.start(t)

	tests := []struct {
		name string
		url  string
		msgs []llm.Message
		want string
	}{
		{name: "server error", url: failing.URL + "/", msgs: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}}, want: "openai: m"},
		{name: "no choices", url: emptyURL, msgs: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}}, want: "no choices"},
		{name: "tool role", url: emptyURL, msgs: []llm.Message{{Role: "tool", Content: "{}"}}, want: `unsupported role "tool"`},
	}
	for _, tt := range tests {
		p, err := New("", "m", WithBaseURL(tt.url), WithMaxRetries(0))
		if err != nil {
			t.Fatal(err)
		}
		_, err = p.Complete(context.Background(), llm.CompletionRequest{Messages: tt.msgs})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want)
		}
	}
}
