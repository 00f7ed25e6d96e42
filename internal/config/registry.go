package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/search"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

type factories[T any] map[string]func(ProviderEntry) (T, error)

// Registry maps provider names to constructors for each provider kind. It
// is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	chat   factories[llm.Provider]
	search factories[search.Provider]
	live   factories[live.Provider]
	audio  factories[audio.Platform]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		chat:   make(factories[llm.Provider]),
		search: make(factories[search.Provider]),
		live:   make(factories[live.Provider]),
		audio:  make(factories[audio.Platform]),
	}
}

// RegisterChat registers a chat provider factory under name. A later call
// with the same name replaces the earlier one.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = factory
}

// RegisterSearch registers a search provider factory under name.
func (r *Registry) RegisterSearch(name string, factory func(ProviderEntry) (search.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search[name] = factory
}

// RegisterLive registers a live session provider factory under name.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterAudio registers an audio platform factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateChat instantiates the chat provider registered under entry.Name.
// It returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateChat(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.chat, "chat", entry)
}

// CreateSearch instantiates the search provider registered under entry.Name.
func (r *Registry) CreateSearch(entry ProviderEntry) (search.Provider, error) {
	return create(&r.mu, r.search, "search", entry)
}

// CreateLive instantiates the live provider registered under entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	return create(&r.mu, r.live, "live", entry)
}

// CreateAudio instantiates the audio platform registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	return create(&r.mu, r.audio, "audio", entry)
}

func create[T any](mu *sync.RWMutex, f factories[T], kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
