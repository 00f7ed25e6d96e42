// Package config provides the configuration schema, loader, hot-reload
// watcher, and provider registry of the parley client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultChatProvider   = "gemini"
	DefaultSearchProvider = "gemini"
	DefaultLiveProvider   = "gemini-live"
	DefaultAudioProvider  = "portaudio"
	DefaultVoice          = "Kore"
	DefaultFrameSize      = 2048
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Chat       ModeConfig       `yaml:"chat"`
	Search     ModeConfig       `yaml:"search"`
	Voice      VoiceConfig      `yaml:"voice"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds logging and diagnostics settings.
type ServerConfig struct {
	// ListenAddr is the address of the diagnostics server serving /healthz,
	// /readyz, and /metrics. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the backend of every mode. Each entry names a
// provider registered in the [Registry].
type ProvidersConfig struct {
	Chat ProviderEntry `yaml:"chat"`

	// ChatFallback is tried when Chat fails or its breaker is open.
	// Optional.
	ChatFallback ProviderEntry `yaml:"chat_fallback"`

	Search ProviderEntry `yaml:"search"`

	// SearchFallback is tried when Search fails. Optional.
	SearchFallback ProviderEntry `yaml:"search_fallback"`

	Live  ProviderEntry `yaml:"live"`
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. A value of the form
	// ${NAME} is replaced with the environment variable NAME at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// ModeConfig holds the texts and limits of a text mode. Empty strings keep
// the built-in texts. Hot-reloadable.
type ModeConfig struct {
	SystemInstruction string `yaml:"system_instruction"`

	// EmptyReply replaces an answer without text.
	EmptyReply string `yaml:"empty_reply"`

	// FailureReply replaces the answer when the backend fails.
	FailureReply string `yaml:"failure_reply"`

	// HistoryLimit caps the prior messages sent with a chat request.
	// Zero sends everything that fits the model's context window.
	HistoryLimit int `yaml:"history_limit"`
}

// VoiceConfig configures live voice sessions. Changes apply to the next
// session.
type VoiceConfig struct {
	// Voice is the prebuilt voice name. Default: "Kore".
	Voice string `yaml:"voice"`

	// Instructions is the system instruction of the live session.
	Instructions string `yaml:"instructions"`

	// FrameSize is the number of microphone samples per frame. Default: 2048.
	FrameSize int `yaml:"frame_size"`

	// InputTranscription and OutputTranscription request transcripts of
	// the user's and the model's speech. Default: true.
	InputTranscription  *bool `yaml:"input_transcription"`
	OutputTranscription *bool `yaml:"output_transcription"`

	Messages VoiceMessages `yaml:"messages"`
}

// VoiceMessages overrides the user-facing voice error texts.
type VoiceMessages struct {
	PermissionDenied string `yaml:"permission_denied"`
	ConnectionFailed string `yaml:"connection_failed"`
	Unsupported      string `yaml:"unsupported"`
}

// ResilienceConfig tunes the circuit breakers around chat and search
// backends. Zero values take the breaker defaults.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Providers.Chat.Name == "" {
		c.Providers.Chat.Name = DefaultChatProvider
	}
	if c.Providers.Search.Name == "" {
		c.Providers.Search.Name = DefaultSearchProvider
	}
	if c.Providers.Live.Name == "" {
		c.Providers.Live.Name = DefaultLiveProvider
	}
	if c.Providers.Audio.Name == "" {
		c.Providers.Audio.Name = DefaultAudioProvider
	}
	if c.Voice.Voice == "" {
		c.Voice.Voice = DefaultVoice
	}
	if c.Voice.FrameSize == 0 {
		c.Voice.FrameSize = DefaultFrameSize
	}
	if c.Voice.InputTranscription == nil {
		c.Voice.InputTranscription = ptr(true)
	}
	if c.Voice.OutputTranscription == nil {
		c.Voice.OutputTranscription = ptr(true)
	}

	// A fallback without its own key shares the primary's when both run
	// on the same provider.
	inheritKey(&c.Providers.ChatFallback, c.Providers.Chat)
	inheritKey(&c.Providers.SearchFallback, c.Providers.Search)
}

func inheritKey(fb *ProviderEntry, primary ProviderEntry) {
	if fb.Configured() && fb.APIKey == "" && fb.Name == primary.Name {
		fb.APIKey = primary.APIKey
	}
}

func ptr[T any](v T) *T { return &v }
