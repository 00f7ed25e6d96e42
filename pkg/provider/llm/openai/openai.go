// Package openai is the chat backend for OpenAI and for local servers that
// speak its chat completions protocol, such as LM Studio, vLLM or the
// llama.cpp server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Provider sends chat turns to a chat completions endpoint.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	request []option.RequestOption
	local   bool
	window  int
}

// Option adjusts how [New] builds the client.
type Option func(*settings)

// WithBaseURL points the client at another server. A server other than
// api.openai.com may be used without an API key.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.request = append(s.request, option.WithBaseURL(url))
		s.local = true
	}
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithOrganization(org)) }
}

// WithTimeout bounds each request attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.request = append(s.request, option.WithRequestTimeout(d)) }
}

// WithMaxRetries sets the SDK's own retry count. Zero leaves failover to the
// circuit breaker in front of the provider.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.request = append(s.request, option.WithMaxRetries(n)) }
}

// WithContextWindow overrides the context window of models the provider
// does not know, which is the usual case for local servers.
func WithContextWindow(tokens int) Option {
	return func(s *settings) { s.window = tokens }
}

// New returns a provider for model. The key is always passed explicitly so
// the SDK never falls back to OPENAI_API_KEY.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("openai: model is required")
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" && !s.local {
		return nil, errors.New("openai: api key is required unless a base URL is set")
	}

	caps := capabilitiesFor(model)
	if s.window > 0 {
		caps.ContextWindow = s.window
	}
	request := append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.request...)
	return &Provider{client: oai.NewClient(request...), model: model, caps: caps}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	history, err := toMessages(req)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: history,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s returned no choices", p.model)
	}

	first := resp.Choices[0]
	text := first.Message.Content
	if text == "" {
		// A refusal is still an answer worth showing.
		text = first.Message.Refusal
	}
	return &llm.CompletionResponse{
		Content:      text,
		FinishReason: first.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider with [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

func toMessages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oai.SystemMessage(req.SystemPrompt))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: message %d has unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

// knownModels is matched by prefix, so more specific names come first.
var knownModels = []struct {
	prefix string
	caps   llm.ModelCapabilities
}{
	{"gpt-4.1", llm.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{"gpt-4o", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-4-turbo", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{"gpt-4", llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{"o1-mini", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{"o1", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o3", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{"o4-mini", llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
}

// localDefault covers models served by local runtimes, which often run with
// a small context.
var localDefault = llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}

func capabilitiesFor(model string) llm.ModelCapabilities {
	name := strings.ToLower(model)
	for _, k := range knownModels {
		if strings.HasPrefix(name, k.prefix) {
			return k.caps
		}
	}
	return localDefault
}
