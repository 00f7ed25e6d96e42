// Package gemini answers search queries with Gemini and the Google Search
// grounding tool, using the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/provider/search"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-flash-preview"

// defaultTitle labels a source whose grounding chunk carries no title.
const defaultTitle = "Source"

// Option configures a [Provider].
type Option func(*Provider)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// Provider implements [search.Provider] with genai.
type Provider struct {
	client  *genai.Client
	model   string
	baseURL string
}

var _ search.Provider = (*Provider)(nil)

// New creates a Provider. The API key is required.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini search: apiKey must not be empty")
	}
	p := &Provider{model: DefaultModel}
	for _, o := range opts {
		o(p)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini search: new client: %w", err)
	}
	p.client = client
	return p, nil
}

// Search implements [search.Provider].
func (p *Provider) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Query), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini search: generate: %w", err)
	}
	return resultFrom(resp), nil
}

// resultFrom extracts the answer text and the web sources of the first
// candidate. Chunks without a web entry are skipped.
func resultFrom(resp *genai.GenerateContentResponse) *search.Result {
	res := &search.Result{}
	if resp == nil {
		return res
	}
	res.Text = resp.Text()

	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return res
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = defaultTitle
		}
		res.Sources = append(res.Sources, search.Source{Title: title, URI: chunk.Web.URI})
	}
	return res
}
