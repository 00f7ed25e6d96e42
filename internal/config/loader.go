package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// [Validate] warns about names outside these lists.
var ValidProviderNames = map[string][]string{
	"chat":   {"gemini", "openai", "openai-compat", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"search": {"gemini"},
	"live":   {"gemini-live"},
	"audio":  {"portaudio", "none"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV} secrets,
// applies defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	for _, e := range cfg.Providers.entries() {
		e.entry.APIKey = expandEnv(e.entry.APIKey)
		e.entry.BaseURL = expandEnv(e.entry.BaseURL)
	}
	cfg.ApplyDefaults()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces a value of the form ${NAME} with the environment
// variable NAME. Any other value is returned unchanged.
func expandEnv(v string) string {
	if !strings.HasPrefix(v, "${") || !strings.HasSuffix(v, "}") {
		return v
	}
	return os.Getenv(v[2 : len(v)-1])
}

type namedEntry struct {
	kind, key string
	entry     *ProviderEntry
}

func (p *ProvidersConfig) entries() []namedEntry {
	return []namedEntry{
		{"chat", "chat", &p.Chat},
		{"chat", "chat_fallback", &p.ChatFallback},
		{"search", "search", &p.Search},
		{"search", "search_fallback", &p.SearchFallback},
		{"live", "live", &p.Live},
		{"audio", "audio", &p.Audio},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for _, e := range cfg.Providers.entries() {
		validateProviderName(e.kind, e.entry.Name)
	}
	if cfg.Providers.ChatFallback.Configured() && !cfg.Providers.Chat.Configured() {
		errs = append(errs, errors.New("providers.chat_fallback requires providers.chat"))
	}
	if cfg.Providers.SearchFallback.Configured() && !cfg.Providers.Search.Configured() {
		errs = append(errs, errors.New("providers.search_fallback requires providers.search"))
	}
	if cfg.Providers.Chat.Name == "openai-compat" && cfg.Providers.Chat.Model == "" {
		errs = append(errs, errors.New("providers.chat.model is required for openai-compat"))
	}
	if cfg.Providers.Live.Configured() && cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty; voice sessions will fail to connect")
	}

	for _, m := range []struct {
		name string
		cfg  ModeConfig
	}{{"chat", cfg.Chat}, {"search", cfg.Search}} {
		if m.cfg.HistoryLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.history_limit %d must not be negative", m.name, m.cfg.HistoryLimit))
		}
	}

	if cfg.Voice.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("voice.frame_size %d must not be negative", cfg.Voice.FrameSize))
	}

	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %v must not be negative", cfg.Resilience.ResetTimeout))
	}
	if cfg.Resilience.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("resilience.half_open_max %d must not be negative", cfg.Resilience.HalfOpenMax))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not listed
// in [ValidProviderNames] for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
