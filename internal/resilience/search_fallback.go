package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/search"
)

// SearchFallback implements [search.Provider] on top of a [FallbackGroup].
type SearchFallback struct {
	group *FallbackGroup[search.Provider]
}

var _ search.Provider = (*SearchFallback)(nil)

// NewSearchFallback creates a SearchFallback with primary as the preferred
// backend.
func NewSearchFallback(primary search.Provider, primaryName string, cfg FallbackConfig) *SearchFallback {
	return &SearchFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another search backend.
func (f *SearchFallback) AddFallback(name string, provider search.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *SearchFallback) Status() []BreakerStatus {
	return f.group.Status()
}

// Search sends req to the first backend that answers.
func (f *SearchFallback) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p search.Provider) (*search.Result, error) {
		return p.Search(ctx, req)
	})
}
