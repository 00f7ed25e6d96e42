package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
	livegemini "github.com/MrWong99/parley/pkg/provider/live/gemini"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/search"
	searchgemini "github.com/MrWong99/parley/pkg/provider/search/gemini"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages. API keys are always passed
// explicitly.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Chat ──────────────────────────────────────────────────────────────────
	for _, name := range anyllm.Backends() {
		reg.RegisterChat(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			p, err := anyllm.New(anyllm.Config{
				Backend: name,
				Model:   entry.Model,
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// openai-compat talks to any OpenAI-compatible endpoint through the
	// official SDK.
	reg.RegisterChat("openai-compat", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		if n, ok := optInt(entry.Options, "context_window"); ok {
			opts = append(opts, openai.WithContextWindow(n))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Search ────────────────────────────────────────────────────────────────
	reg.RegisterSearch("gemini", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []searchgemini.Option
		if entry.Model != "" {
			opts = append(opts, searchgemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, searchgemini.WithBaseURL(entry.BaseURL))
		}
		p, err := searchgemini.New(ctx, entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Live ──────────────────────────────────────────────────────────────────
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []livegemini.Option
		if entry.Model != "" {
			opts = append(opts, livegemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, livegemini.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "keepalive"); d > 0 {
			opts = append(opts, livegemini.WithKeepalive(d))
		}
		return livegemini.New(entry.APIKey, opts...), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("none", func(config.ProviderEntry) (audio.Platform, error) {
		return unsupportedPlatform{reason: "audio disabled by configuration"}, nil
	})
	registerAudio(reg)
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers

	var err error
	if ps.Chat, err = create("chat", p.Chat, reg.CreateChat); err != nil {
		return nil, err
	}
	if ps.ChatFallback, err = create("chat_fallback", p.ChatFallback, reg.CreateChat); err != nil {
		return nil, err
	}
	if ps.Search, err = create("search", p.Search, reg.CreateSearch); err != nil {
		return nil, err
	}
	if ps.SearchFallback, err = create("search_fallback", p.SearchFallback, reg.CreateSearch); err != nil {
		return nil, err
	}
	if ps.Live, err = create("live", p.Live, reg.CreateLive); err != nil {
		return nil, err
	}
	if ps.Audio, err = create("audio", p.Audio, reg.CreateAudio); err != nil {
		return nil, err
	}
	return ps, nil
}

// create builds the provider of one slot. An unconfigured slot or an
// unregistered name yields the zero value and no error.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if !entry.Configured() {
		return zero, nil
	}
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// unsupportedPlatform reports every audio device as unsupported, so a voice
// attempt ends with the unsupported-environment message.
type unsupportedPlatform struct {
	reason string
}

func (u unsupportedPlatform) OpenOutput(context.Context, audio.Format) (audio.OutputDevice, error) {
	return nil, fmt.Errorf("%w: %s", audio.ErrUnsupported, u.reason)
}

func (u unsupportedPlatform) OpenInput(context.Context, audio.Format) (audio.InputDevice, error) {
	return nil, fmt.Errorf("%w: %s", audio.ErrUnsupported, u.reason)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optDuration parses a duration option such as "30s". Invalid values are
// ignored with a warning.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
