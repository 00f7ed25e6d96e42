// Package mock provides a test double for the search.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/search"
)

// Provider is a mock implementation of [search.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is returned by Search. May be nil.
	Result *search.Result

	// Err, if non-nil, is returned by Search.
	Err error

	// SearchFunc, if set, replaces Result and Err.
	SearchFunc func(ctx context.Context, req search.Request) (*search.Result, error)

	// SearchCalls records every request in order.
	SearchCalls []search.Request
}

var _ search.Provider = (*Provider)(nil)

// Search implements [search.Provider].
func (p *Provider) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	p.mu.Lock()
	p.SearchCalls = append(p.SearchCalls, req)
	fn := p.SearchFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []search.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]search.Request, len(p.SearchCalls))
	copy(out, p.SearchCalls)
	return out
}
