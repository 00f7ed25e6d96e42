package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Chat: config.ProviderEntry{Name: "gemini", APIKey: "k"},
		},
		Chat: config.ModeConfig{SystemInstruction: "Be brief."},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("diff = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if d.Empty() {
		t.Error("Empty() = true")
	}
}

func TestDiff_ModeTexts(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Search.EmptyReply = "Nothing found."
	new.Chat.HistoryLimit = 10

	d := config.Diff(old, new)
	if !d.ChatChanged || !d.SearchChanged {
		t.Errorf("diff = %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}

func TestDiff_Voice(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.VoiceConfig)
	}{
		{"voice name", func(v *config.VoiceConfig) { v.Voice = "Puck" }},
		{"instructions", func(v *config.VoiceConfig) { v.Instructions = "Speak slowly." }},
		{"transcription flag", func(v *config.VoiceConfig) { f := false; v.OutputTranscription = &f }},
		{"message", func(v *config.VoiceConfig) { v.Messages.Unsupported = "No audio." }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(&new.Voice)
			if d := config.Diff(old, new); !d.VoiceChanged {
				t.Errorf("VoiceChanged = false, diff = %+v", d)
			}
		})
	}
}

func TestDiff_TranscriptionPointersCompareByValue(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	on := true
	new.Voice.InputTranscription = &on
	if d := config.Diff(old, new); d.VoiceChanged {
		t.Error("equal flags behind different pointers reported as changed")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Providers.Chat.Model = "gemini-2.5-pro"
	new.Providers.Live.APIKey = "rotated"
	new.Server.ListenAddr = ":9090"
	new.Resilience.MaxFailures = 2

	d := config.Diff(old, new)
	for _, want := range []string{"providers.chat", "providers.live", "server.listen_addr", "resilience"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.ChatChanged || d.VoiceChanged || d.LogLevelChanged {
		t.Errorf("hot-reloadable sections flagged: %+v", d)
	}
}
