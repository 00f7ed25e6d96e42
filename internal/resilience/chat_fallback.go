package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ChatFallback implements [llm.Provider] on top of a [FallbackGroup].
type ChatFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*ChatFallback)(nil)

// NewChatFallback creates a ChatFallback with primary as the preferred backend.
func NewChatFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *ChatFallback {
	return &ChatFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another chat backend.
func (f *ChatFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *ChatFallback) Status() []BreakerStatus {
	return f.group.Status()
}

// Complete sends req to the first backend that answers.
func (f *ChatFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's counter. Counting is local and never
// trips a breaker.
func (f *ChatFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}

// Capabilities returns the primary's limits. History is trimmed against
// them, so a fallback with a smaller window may truncate more.
func (f *ChatFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
