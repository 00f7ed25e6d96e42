package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func TestBuildProviders_Builtins(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(context.Background(), reg)

	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  chat:
    name: openai-compat
    api_key: sk-test
    model: local-model
    base_url: http://127.0.0.1:1/v1
    options:
      max_retries: 0
      timeout: 5s
  search:
    name: not-built-in
  live:
    name: gemini-live
    api_key: test-key
  audio:
    name: none
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Chat == nil || ps.Live == nil || ps.Audio == nil {
		t.Errorf("providers = %+v, want chat, live, and audio", ps)
	}
	if ps.Search != nil {
		t.Error("an unregistered search provider should be skipped")
	}
	if ps.ChatFallback != nil || ps.SearchFallback != nil {
		t.Error("unconfigured fallbacks should stay nil")
	}

	_, err = ps.Audio.OpenInput(context.Background(), audio.CaptureFormat)
	if !errors.Is(err, audio.ErrUnsupported) {
		t.Errorf("audio none: err = %v, want ErrUnsupported", err)
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterChat("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("bad credentials")
	})

	cfg := &config.Config{}
	cfg.Providers.Chat = config.ProviderEntry{Name: "broken"}
	_, err := buildProviders(cfg, reg)
	if err == nil || !strings.Contains(err.Error(), "bad credentials") || !strings.Contains(err.Error(), `chat provider "broken"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()
	primary, backup := &llmmock.Provider{}, &llmmock.Provider{}
	reg := config.NewRegistry()
	reg.RegisterChat("a", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterChat("b", func(config.ProviderEntry) (llm.Provider, error) { return backup, nil })

	cfg := &config.Config{}
	cfg.Providers.Chat = config.ProviderEntry{Name: "a"}
	cfg.Providers.ChatFallback = config.ProviderEntry{Name: "b"}
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatal(err)
	}
	if ps.Chat != primary || ps.ChatFallback != backup {
		t.Errorf("chat = %v, fallback = %v", ps.Chat, ps.ChatFallback)
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"s":   "value",
		"i":   3,
		"f":   2.0,
		"d":   "1m30s",
		"bad": "soon",
	}
	if got := optString(opts, "s"); got != "value" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "i"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optString(nil, "s"); got != "" {
		t.Errorf("optString on nil map = %q", got)
	}
	if n, ok := optInt(opts, "i"); !ok || n != 3 {
		t.Errorf("optInt(i) = %d, %v", n, ok)
	}
	if n, ok := optInt(opts, "f"); !ok || n != 2 {
		t.Errorf("optInt(f) = %d, %v", n, ok)
	}
	if _, ok := optInt(opts, "s"); ok {
		t.Error("optInt on a string should fail")
	}
	if got := optDuration(opts, "d"); got != 90*time.Second {
		t.Errorf("optDuration = %v", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration on invalid value = %v, want 0", got)
	}
}
