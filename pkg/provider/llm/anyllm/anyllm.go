// Package anyllm serves the chat mode through github.com/mozilla-ai/any-llm-go,
// which speaks to Gemini, OpenAI, Anthropic and several hosted or local
// runtimes behind one interface.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

type backend struct {
	name string
	// local backends run on the user's machine and take no API key.
	local        bool
	defaultModel string
	open         func(...anyllmlib.Option) (anyllmlib.Provider, error)
}

var backends = []backend{
	{name: "gemini", defaultModel: "gemini-3-pro-preview", open: wrap(gemini.New)},
	{name: "openai", defaultModel: "gpt-4o-mini", open: wrap(anyllmoai.New)},
	{name: "anthropic", open: wrap(anthropic.New)},
	{name: "deepseek", open: wrap(deepseek.New)},
	{name: "mistral", open: wrap(mistral.New)},
	{name: "groq", open: wrap(groq.New)},
	{name: "ollama", local: true, open: wrap(ollama.New)},
	{name: "llamacpp", local: true, open: wrap(llamacpp.New)},
	{name: "llamafile", local: true, open: wrap(llamafile.New)},
}

// wrap adapts a concrete constructor. The explicit nil check keeps a failed
// constructor from producing a non-nil interface.
func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Backends returns the backend names [New] accepts.
func Backends() []string {
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.name
	}
	return names
}

// Config selects a backend and model.
type Config struct {
	Backend string
	// Model may be empty for backends with a default model.
	Model   string
	APIKey  string
	BaseURL string
}

// Provider implements llm.Provider on top of one any-llm-go backend.
type Provider struct {
	client anyllmlib.Provider
	name   string
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New connects to the configured backend. The key is handed over
// explicitly; local backends ignore it.
func New(cfg Config) (*Provider, error) {
	name := strings.ToLower(cfg.Backend)
	var b *backend
	for i := range backends {
		if backends[i].name == name {
			b = &backends[i]
		}
	}
	if b == nil {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", cfg.Backend, strings.Join(Backends(), ", "))
	}

	model := cfg.Model
	if model == "" {
		model = b.defaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s needs a model name", name)
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" && !b.local {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	client, err := b.open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s: %w", name, err)
	}
	return &Provider{client: client, name: name, model: model}, nil
}

// Name returns the backend name, e.g. "gemini".
func (p *Provider) Name() string { return p.name }

// Model returns the model the provider asks for.
func (p *Provider) Model() string { return p.model }

var errNoChoices = errors.New("no choices in response")

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.name, errNoChoices)
	}

	out := &llm.CompletionResponse{
		Content:      resp.Choices[0].Message.ContentString(),
		FinishReason: resp.Choices[0].FinishReason,
	}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// CountTokens implements llm.Provider with [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return capabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}

// families maps a model name fragment to its limits. The first match wins.
var families = []struct {
	match  func(string) bool
	window int
	output int
}{
	{contains("gemini-3"), 1_048_576, 65_536},
	{contains("gemini-2.5"), 1_048_576, 65_536},
	{contains("gemini-2.0-flash"), 1_048_576, 8_192},
	{prefix("gemini"), 128_000, 8_192},
	{prefix("gpt-4o"), 128_000, 16_384},
	{prefix("gpt-4"), 8_192, 4_096},
	{prefix("o1"), 200_000, 100_000},
	{prefix("o3"), 200_000, 100_000},
	{prefix("claude"), 200_000, 8_192},
	{prefix("deepseek"), 64_000, 8_192},
	{prefix("mistral-large"), 128_000, 4_096},
}

func contains(s string) func(string) bool {
	return func(m string) bool { return strings.Contains(m, s) }
}

func prefix(s string) func(string) bool {
	return func(m string) bool { return strings.HasPrefix(m, s) }
}

func capabilitiesFor(model string) llm.ModelCapabilities {
	m := strings.ToLower(model)
	for _, f := range families {
		if f.match(m) {
			return llm.ModelCapabilities{ContextWindow: f.window, MaxOutputTokens: f.output}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}
